package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"dream-server/internal/models"
	"dream-server/internal/service"
)

// Compile-time check to ensure rabbitMQProgressPublisher implements the interface
var _ service.ProgressNotifier = (*rabbitMQProgressPublisher)(nil)

// rabbitMQProgressPublisher publishes progress events to the durable
// progress queue. Routing every event through one queue drained by one
// consumer is what keeps per-job event ordering intact.
type rabbitMQProgressPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQProgressPublisher declares the progress queue and returns the
// publisher. The channel stays owned by the caller and is closed there.
func NewRabbitMQProgressPublisher(ch *amqp.Channel, queueName string, logger *zap.Logger) (service.ProgressNotifier, error) {
	_, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare progress queue '%s': %w", queueName, err)
	}

	logger = logger.Named("ProgressPublisher")
	logger.Info("Progress queue declared", zap.String("queue", queueName))

	return &rabbitMQProgressPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger,
	}, nil
}

// Notify publishes one progress event as a persistent JSON message.
func (p *rabbitMQProgressPublisher) Notify(ctx context.Context, event models.ProgressEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event for job %s: %w", event.JobID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        "dream-server",
			MessageId:    fmt.Sprintf("%s-%d", event.JobID, event.Percent),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish progress event for job %s: %w", event.JobID, err)
	}

	p.logger.Debug("Progress event published",
		zap.String("job_id", event.JobID),
		zap.Int("percent", event.Percent),
		zap.Bool("terminal", event.Terminal))
	return nil
}
