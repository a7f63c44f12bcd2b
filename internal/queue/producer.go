package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// jsonPublisher is the part of Connection the publisher needs
type jsonPublisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// PublisherConfig holds event publisher configuration
type PublisherConfig struct {
	// Timeout bounds a single publish (default: 2s)
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit (default: 3)
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before probing (default: 30s)
	OpenTimeout time.Duration
}

// DefaultPublisherConfig returns sensible defaults
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Timeout:          2 * time.Second,
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

// Publisher implements domain.EventPublisher on RabbitMQ. A circuit breaker
// sheds publishes while the broker is unreachable.
type Publisher struct {
	conn    jsonPublisher
	breaker circuitbreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

// NewPublisher creates an event publisher on conn
func NewPublisher(conn *Connection, cfg PublisherConfig) *Publisher {
	return newPublisher(conn, cfg)
}

func newPublisher(conn jsonPublisher, cfg PublisherConfig) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	p := &Publisher{conn: conn, timeout: cfg.Timeout}
	p.breaker = circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.FailureThreshold
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			slog.Warn("event publisher circuit breaker state change",
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p
}

// PublishVerdict publishes a verdict event
func (p *Publisher) PublishVerdict(ctx context.Context, event *domain.VerdictEvent) error {
	if err := p.publish(ctx, VerdictQueueName, event); err != nil {
		return fmt.Errorf("failed to publish verdict event: %w", err)
	}

	slog.Debug("published verdict event",
		"event_id", event.ID,
		"exercise_id", event.ExerciseID,
		"kind", event.Kind,
	)
	return nil
}

// PublishInteraction publishes an interaction event
func (p *Publisher) PublishInteraction(ctx context.Context, event *domain.InteractionEvent) error {
	if err := p.publish(ctx, InteractionQueueName, event); err != nil {
		return fmt.Errorf("failed to publish interaction event: %w", err)
	}

	slog.Debug("published interaction event",
		"event_id", event.ID,
		"exercise_id", event.ExerciseID,
		"intent", event.Intent,
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.conn.PublishJSON(ctx, queue, event)
	})
	return err
}
