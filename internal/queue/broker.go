package queue

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// QueueName is the durable broker queue every producer publishes to and
// the processor consumes from.
const QueueName = "rework_queue"

// Broker wraps an AMQP channel for the rework_queue.
type Broker struct {
	channel *amqp.Channel
}

// Dial connects to the broker and declares the durable queue.
func Dial(amqpURL string) (*Broker, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to connect to broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to open broker channel", err)
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to declare rework_queue", err)
	}
	return &Broker{channel: ch}, nil
}

// Publish enqueues a work item on the default exchange.
func (b *Broker) Publish(req models.QueueRequest) error {
	err := b.channel.Publish("", QueueName, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        Encode(req),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to publish queue message", err)
	}
	return nil
}

// Purge drains every message currently sitting in rework_queue. Used by
// mass-recalc's destructive reset, which must run this before deleting
// any DB rows (spec §9's crash-safety ordering).
func (b *Broker) Purge() error {
	if _, err := b.channel.QueuePurge(QueueName, false); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to purge rework_queue", err)
	}
	return nil
}

// Consume returns a channel of raw deliveries for the processor to
// range over, one at a time, acking/nacking each itself.
func (b *Broker) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	// prefetch 1 keeps the processor single-threaded: it never holds
	// more than one unacked delivery at a time (spec §9 redesign note).
	if err := b.channel.Qos(1, 0, false); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to set channel QoS", err)
	}
	deliveries, err := b.channel.Consume(QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to start consuming", err)
	}
	return deliveries, nil
}

// Depth returns the number of messages currently sitting in rework_queue,
// as last reported by the broker (passive queue declare).
func (b *Broker) Depth() (int, error) {
	q, err := b.channel.QueueInspect(QueueName)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.InternalServerError, "failed to inspect rework_queue", err)
	}
	return q.Messages, nil
}

// Close closes the underlying channel.
func (b *Broker) Close() error {
	if err := b.channel.Close(); err != nil {
		return fmt.Errorf("queue: close channel: %w", err)
	}
	return nil
}
