//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/queue"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get AMQP URL: %v", err)
	}
	return amqpURL
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	conn, err := queue.NewConnection(setupRabbitMQ(t))
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}
	if err := conn.Close(); err != nil {
		t.Errorf("failed to close connection: %v", err)
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	if _, err := queue.NewConnection("amqp://invalid:5672"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_PublishVerdict(t *testing.T) {
	conn, err := queue.NewConnection(setupRabbitMQ(t))
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	p := queue.NewPublisher(conn, queue.DefaultPublisherConfig())
	if err := p.PublishVerdict(context.Background(), domain.NewVerdictEvent("u1", "two-sum", domain.PassVerdict())); err != nil {
		t.Fatalf("PublishVerdict() error = %v", err)
	}

	q, err := conn.Channel().QueueInspect(queue.VerdictQueueName)
	if err != nil {
		t.Fatalf("failed to inspect queue: %v", err)
	}
	if q.Messages != 1 {
		t.Errorf("expected 1 message in queue, got %d", q.Messages)
	}
}

func TestIntegration_PublishAndConsume(t *testing.T) {
	amqpURL := setupRabbitMQ(t)

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	verdicts := make(chan *domain.VerdictEvent, 1)
	interactions := make(chan *domain.InteractionEvent, 1)
	consumer := queue.NewConsumer(conn, queue.Handlers{
		Verdict: func(_ context.Context, e *domain.VerdictEvent) error {
			verdicts <- e
			return nil
		},
		Interaction: func(_ context.Context, e *domain.InteractionEvent) error {
			interactions <- e
			return nil
		},
	}, queue.DefaultConsumerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	p := queue.NewPublisher(conn, queue.DefaultPublisherConfig())
	verdict := domain.NewVerdictEvent("u1", "two-sum", domain.TimeoutVerdict(3*time.Second))
	interaction := domain.NewInteractionEvent("u1", "two-sum", domain.IntentLike,
		domain.Facts{Affinity: domain.AffinityLiked}, domain.Counters{Likes: 1})
	if err := p.PublishVerdict(ctx, verdict); err != nil {
		t.Fatalf("PublishVerdict() error = %v", err)
	}
	if err := p.PublishInteraction(ctx, interaction); err != nil {
		t.Fatalf("PublishInteraction() error = %v", err)
	}

	select {
	case got := <-verdicts:
		if got.ID != verdict.ID || got.Kind != domain.VerdictTimeout {
			t.Errorf("consumed verdict %+v, want %+v", got, verdict)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for verdict event")
	}

	select {
	case got := <-interactions:
		if got.ID != interaction.ID || got.Affinity != domain.AffinityLiked || got.Likes != 1 {
			t.Errorf("consumed interaction %+v, want %+v", got, interaction)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for interaction event")
	}
}
