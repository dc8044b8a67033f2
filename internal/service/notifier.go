package service

import (
	"context"

	"dream-server/internal/models"
)

// ProgressNotifier publishes job progress events for delivery to the owning
// user. Delivery is best effort: a lost event must never affect the job.
type ProgressNotifier interface {
	Notify(ctx context.Context, event models.ProgressEvent) error
}
