package messaging

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"dream-server/internal/models"
	"dream-server/internal/ws"
)

// ProgressConsumer drains the progress queue and forwards each event to the
// owning user's WebSocket connection. A single consumer with prefetch 1
// preserves the publish order end to end.
type ProgressConsumer struct {
	conn        *amqp.Connection
	manager     *ws.ConnectionManager
	queueName   string
	stopChannel chan struct{}
	logger      *zap.Logger
}

// NewProgressConsumer creates the consumer.
func NewProgressConsumer(conn *amqp.Connection, manager *ws.ConnectionManager, queueName string, logger *zap.Logger) *ProgressConsumer {
	return &ProgressConsumer{
		conn:        conn,
		manager:     manager,
		queueName:   queueName,
		stopChannel: make(chan struct{}),
		logger:      logger.Named("ProgressConsumer"),
	}
}

// StartConsuming listens on the progress queue until Stop is called. It
// blocks, so run it in its own goroutine.
func (c *ProgressConsumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	// Declare defensively with the same parameters as the publisher.
	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", c.queueName, err)
	}

	// Prefetch 1 so events are handled strictly one at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"dream-server-progress-consumer", // consumer tag
		false,                            // auto-ack
		false,                            // exclusive
		false,                            // no-local
		false,                            // no-wait
		nil,                              // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Progress consumer started", zap.String("queue", q.Name))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("RabbitMQ message channel closed")
				return nil
			}
			c.handleDelivery(d)

		case <-c.stopChannel:
			c.logger.Info("Progress consumer stop requested")
			return nil
		}
	}
}

// handleDelivery forwards one event to its user. An offline user is a
// normal outcome: progress delivery is best effort and the event is acked
// either way. Only undecodable messages are dropped with a Nack.
func (c *ProgressConsumer) handleDelivery(d amqp.Delivery) {
	var event models.ProgressEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error("Failed to decode progress event, dropping", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if event.UserID == "" {
		c.logger.Error("Progress event without user ID, dropping", zap.String("job_id", event.JobID))
		_ = d.Nack(false, false)
		return
	}

	if sent := c.manager.SendToUser(event.UserID, d.Body); !sent {
		c.logger.Debug("Progress event not delivered (user offline)",
			zap.String("user_id", event.UserID),
			zap.String("job_id", event.JobID))
	}
	_ = d.Ack(false)
}

// Stop stops the consumer loop.
func (c *ProgressConsumer) Stop() {
	close(c.stopChannel)
}
