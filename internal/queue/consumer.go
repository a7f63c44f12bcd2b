package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// Handlers receive decoded events. A nil handler skips its queue.
type Handlers struct {
	Verdict     func(ctx context.Context, event *domain.VerdictEvent) error
	Interaction func(ctx context.Context, event *domain.InteractionEvent) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Prefetch int // Unacknowledged deliveries per queue
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Prefetch: 10,
	}
}

// Consumer delivers events from the event queues to handlers
type Consumer struct {
	conn       *Connection
	handlers   Handlers
	prefetch   int
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConsumer creates a new event consumer
func NewConsumer(conn *Connection, handlers Handlers, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultConsumerConfig().Prefetch
	}

	return &Consumer{
		conn:     conn,
		handlers: handlers,
		prefetch: cfg.Prefetch,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()
	if ch == nil {
		return ErrNotConnected
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	for _, queue := range c.queues() {
		msgs, err := ch.Consume(
			queue,
			"",    // consumer tag (auto-generated)
			false, // auto-ack (manual ack for reliability)
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to consume %s: %w", queue, err)
		}

		c.wg.Add(1)
		go c.worker(ctx, queue, msgs)
	}

	slog.Info("event consumer started", "queues", c.queues(), "prefetch", c.prefetch)
	return nil
}

func (c *Consumer) queues() []string {
	var queues []string
	if c.handlers.Verdict != nil {
		queues = append(queues, VerdictQueueName)
	}
	if c.handlers.Interaction != nil {
		queues = append(queues, InteractionQueueName)
	}
	return queues
}

// worker processes messages from one queue
func (c *Consumer) worker(ctx context.Context, queue string, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				slog.Info("message channel closed", "queue", queue)
				return
			}

			c.processMessage(ctx, queue, msg)
		}
	}
}

// processMessage decodes and dispatches a single message. Malformed
// messages are dropped; a failing handler gets one redelivery.
func (c *Consumer) processMessage(ctx context.Context, queue string, msg amqp.Delivery) {
	err := c.dispatch(ctx, queue, msg.Body)

	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack(false)
	case isDecodeError(err):
		slog.Error("dropping malformed event", "queue", queue, "error", err)
		ackErr = msg.Reject(false)
	default:
		slog.Error("event handler failed",
			"queue", queue,
			"redelivered", msg.Redelivered,
			"error", err,
		)
		ackErr = msg.Nack(false, !msg.Redelivered)
	}

	if ackErr != nil {
		slog.Error("failed to acknowledge message", "queue", queue, "error", ackErr)
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode event: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	_, ok := err.(*decodeError)
	return ok
}

func (c *Consumer) dispatch(ctx context.Context, queue string, body []byte) error {
	switch queue {
	case VerdictQueueName:
		var event domain.VerdictEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return &decodeError{err}
		}
		return c.handlers.Verdict(ctx, &event)

	case InteractionQueueName:
		var event domain.InteractionEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return &decodeError{err}
		}
		return c.handlers.Interaction(ctx, &event)
	}
	return &decodeError{fmt.Errorf("unknown queue %s", queue)}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}
