package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/kata/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	err    error
	calls  int
	queues []string
}

func (f *fakeConn) PublishJSON(ctx context.Context, queue string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queues = append(f.queues, queue)
	return f.err
}

func TestPublisher_RoutesByEventType(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, PublisherConfig{})
	ctx := context.Background()

	if err := p.PublishVerdict(ctx, domain.NewVerdictEvent("u1", "two-sum", domain.PassVerdict())); err != nil {
		t.Fatalf("PublishVerdict() error = %v", err)
	}
	facts := domain.Facts{Affinity: domain.AffinityLiked}
	if err := p.PublishInteraction(ctx, domain.NewInteractionEvent("u1", "two-sum", domain.IntentLike, facts, domain.Counters{Likes: 1})); err != nil {
		t.Fatalf("PublishInteraction() error = %v", err)
	}

	want := []string{VerdictQueueName, InteractionQueueName}
	if len(conn.queues) != len(want) {
		t.Fatalf("published to %v, want %v", conn.queues, want)
	}
	for i := range want {
		if conn.queues[i] != want[i] {
			t.Errorf("queue[%d] = %q, want %q", i, conn.queues[i], want[i])
		}
	}
}

func TestPublisher_CircuitOpensAfterFailures(t *testing.T) {
	conn := &fakeConn{err: ErrNotConnected}
	p := newPublisher(conn, PublisherConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()
	event := domain.NewVerdictEvent("", "two-sum", domain.PassVerdict())

	for i := 0; i < 2; i++ {
		if err := p.PublishVerdict(ctx, event); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("PublishVerdict() #%d error = %v, want ErrNotConnected", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		if err := p.PublishVerdict(ctx, event); err == nil {
			t.Fatal("PublishVerdict() with open circuit expected error")
		}
	}
	if conn.calls != 2 {
		t.Errorf("broker called %d times, want 2 (circuit should shed the rest)", conn.calls)
	}
}

func TestDefaultPublisherConfig(t *testing.T) {
	cfg := DefaultPublisherConfig()
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", cfg.Timeout)
	}
	if cfg.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.FailureThreshold)
	}
}
