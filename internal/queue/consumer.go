package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer drains the domain event queues and appends one line per event
// to <Dir>/events.log.  It is an audit trail, not part of any request.
type Consumer struct {
	URL string
	Dir string
	Log *slog.Logger

	mu sync.Mutex // serializes appends to the log file
}

// NewConsumer returns a consumer for the broker at url writing to dir.
func NewConsumer(url, dir string, log *slog.Logger) *Consumer {
	if dir == "" {
		dir = "logs"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{URL: url, Dir: dir, Log: log}
}

// Run connects to RabbitMQ, declares both event queues (durable) and
// consumes them until ctx is cancelled.  Broker failures trigger a
// reconnect with exponential backoff capped at 30s; a message that cannot
// be handled is rejected without requeue so it cannot loop.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("event-consumer: dial failed", slog.Any("err", err), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.Log.Warn("event-consumer: consume loop ended; reconnecting", slog.Any("err", err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("event-consumer: set QoS failed", slog.Any("err", err))
	}

	type delivery struct {
		queue string
		d     amqp.Delivery
	}
	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)

	var wg sync.WaitGroup
	for _, q := range []string{RatingUpdatedQueue, SessionRevokedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		wg.Add(1)
		go func(q string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range msgs {
				select {
				case merged <- delivery{queue: q, d: d}:
				case <-done:
					return
				}
			}
		}(q, msgs)
	}
	closed := make(chan struct{})
	go func() { wg.Wait(); close(closed) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return errors.New("deliveries channel closed")
		case m := <-merged:
			if err := c.Handle(m.queue, m.d.Body); err != nil {
				c.Log.Warn("event-consumer: handle message failed", slog.String("queue", m.queue), slog.Any("err", err))
				_ = m.d.Nack(false, false)
				continue
			}
			_ = m.d.Ack(false)
		}
	}
}

// Handle decodes one message body from queue and appends its log line.
func (c *Consumer) Handle(queue string, body []byte) error {
	var line string
	switch queue {
	case RatingUpdatedQueue:
		var ev RatingUpdatedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		line = fmt.Sprintf("[%s] Rating updated | product_id=%d | review_id=%d | trigger=%s | rating=%.4f | event_id=%s\n",
			ev.OccurredAt, ev.ProductID, ev.ReviewID, ev.Trigger, ev.Rating, ev.EventID)
	case SessionRevokedQueue:
		var ev SessionRevokedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		line = fmt.Sprintf("[%s] Sessions revoked | user_id=%d | reason=%s | tokens=%d | event_id=%s\n",
			ev.OccurredAt, ev.UserID, ev.Reason, ev.Tokens, ev.EventID)
	default:
		return fmt.Errorf("unknown queue %q", queue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, "events.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
