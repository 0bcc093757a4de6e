package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/marketplace-api/internal/logger"
)

// Publisher sends a domain event to the named queue.  Callers publish only
// after their transaction committed and treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, queue string, event any) error
}

// Nop discards every event.  It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// AMQPPublisher publishes JSON events to RabbitMQ.  Each call dials,
// declares the durable queue and publishes a persistent message, so a
// broker outage never leaves a half-open connection behind.
type AMQPPublisher struct {
	URL         string
	DialTimeout time.Duration
}

// NewAMQPPublisher returns a publisher for the broker at url.
func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{URL: url, DialTimeout: 2 * time.Second}
}

// Publish marshals event and sends it to queue.  Errors are logged and
// returned so the caller can choose to ignore them.
func (p *AMQPPublisher) Publish(ctx context.Context, queue string, event any) error {
	const op = "queue.AMQPPublisher.Publish"
	log := logger.From(ctx).With(slog.String("queue", queue))

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(p.DialTimeout)})
	if err != nil {
		log.Warn("rabbitmq: dial failed", slog.Any("err", err))
		return fmt.Errorf("%s: dial: %w", op, err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq: channel open failed", slog.Any("err", err))
		return fmt.Errorf("%s: channel: %w", op, err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		log.Warn("rabbitmq: queue declare failed", slog.Any("err", err))
		return fmt.Errorf("%s: declare: %w", op, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		log.Warn("rabbitmq: publish failed", slog.Any("err", err))
		return fmt.Errorf("%s: publish: %w", op, err)
	}
	return nil
}

// Recorder keeps published events in memory.  Tests use it to assert
// which events a unit of work emitted.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Queue string
	Event any
}

func (r *Recorder) Publish(_ context.Context, queue string, event any) error {
	r.mu.Lock()
	r.events = append(r.events, Recorded{Queue: queue, Event: event})
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}
