package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dream-server/internal/models"
)

// DBTX abstracts over *pgxpool.Pool and pgx.Tx so repositories can run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StyleRepository provides read access to the style catalog maintained by
// the admin collaborator.
type StyleRepository interface {
	// GetByKey returns the style for the given key or models.ErrStyleNotFound.
	GetByKey(ctx context.Context, key string) (*models.StyleRecord, error)
	// List returns all styles ordered by key.
	List(ctx context.Context) ([]models.StyleRecord, error)
}

// SequenceRepository persists sequence aggregates. Scene rows are appended
// one by one as the job progresses so a crash never loses finished scenes.
type SequenceRepository interface {
	// Create inserts the sequence row in the generating state.
	Create(ctx context.Context, seq *models.SequenceResult) error
	// AppendScene inserts one scene result row for the sequence.
	AppendScene(ctx context.Context, sequenceID uuid.UUID, scene models.SceneResult) error
	// Finalize stores the character image data and flips the sequence to its
	// terminal status.
	Finalize(ctx context.Context, sequenceID uuid.UUID, characterImageRef, characterPrompt string, status models.SequenceStatus, completedAt time.Time) error
	// GetByID loads a sequence with its scenes in sequence-number order.
	GetByID(ctx context.Context, id uuid.UUID) (*models.SequenceResult, error)
}

// ImageReferenceRepository maps stable image references to the URLs under
// which the re-hosted bytes are served.
type ImageReferenceRepository interface {
	SaveOrUpdate(ctx context.Context, reference string, imageURL string) error
	GetURLByRef(ctx context.Context, reference string) (string, error)
	// GetURLsByRefs resolves many references in one query; missing refs are
	// simply absent from the result map.
	GetURLsByRefs(ctx context.Context, refs []string) (map[string]string, error)
}

// DynamicConfigRepository reads and writes hot-reloadable configuration rows.
type DynamicConfigRepository interface {
	GetAll(ctx context.Context) ([]models.DynamicConfig, error)
	Upsert(ctx context.Context, key, value string) error
}
