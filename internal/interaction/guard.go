package interaction

import (
	"context"
	"sync"
)

type pairKey struct {
	userID     string
	exerciseID string
}

// PairGuard marks (user, exercise) pairs as busy while an operation on
// them is in flight. Different pairs never block each other.
type PairGuard struct {
	mu   sync.Mutex
	busy map[pairKey]chan struct{}
}

// NewPairGuard creates an empty guard
func NewPairGuard() *PairGuard {
	return &PairGuard{busy: make(map[pairKey]chan struct{})}
}

// TryAcquire claims the pair without waiting. ok is false when the pair
// is already busy.
func (g *PairGuard) TryAcquire(userID, exerciseID string) (release func(), ok bool) {
	key := pairKey{userID, exerciseID}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.busy[key]; held {
		return nil, false
	}
	return g.claim(key), true
}

// Acquire claims the pair, waiting for the current holder to release it
func (g *PairGuard) Acquire(ctx context.Context, userID, exerciseID string) (release func(), err error) {
	key := pairKey{userID, exerciseID}

	for {
		g.mu.Lock()
		done, held := g.busy[key]
		if !held {
			release := g.claim(key)
			g.mu.Unlock()
			return release, nil
		}
		g.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Busy reports whether the pair is currently held
func (g *PairGuard) Busy(userID, exerciseID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.busy[pairKey{userID, exerciseID}]
	return held
}

// claim must be called with g.mu held
func (g *PairGuard) claim(key pairKey) func() {
	done := make(chan struct{})
	g.busy[key] = done

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, key)
			g.mu.Unlock()
			close(done)
		})
	}
}
