package interaction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/interaction"
	"github.com/felixgeelhaar/kata/internal/storage/memory"
)

type catalog map[string]bool

func (c catalog) GetExercise(id string) (*domain.Exercise, error) {
	if c[id] {
		return &domain.Exercise{ID: id}, nil
	}
	return nil, domain.ErrExerciseNotFound
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.InteractionEvent
	err    error
}

func (p *capturePublisher) PublishVerdict(context.Context, *domain.VerdictEvent) error { return nil }

func (p *capturePublisher) PublishInteraction(_ context.Context, e *domain.InteractionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type countingRecorder struct {
	mu          sync.Mutex
	transitions int
	conflicts   int
	exhausted   int
	busy        int
}

func (r *countingRecorder) ObserveTransition(domain.Intent) { r.mu.Lock(); r.transitions++; r.mu.Unlock() }
func (r *countingRecorder) ObserveConflict()                { r.mu.Lock(); r.conflicts++; r.mu.Unlock() }
func (r *countingRecorder) ObserveExhausted()               { r.mu.Lock(); r.exhausted++; r.mu.Unlock() }
func (r *countingRecorder) ObserveBusy()                    { r.mu.Lock(); r.busy++; r.mu.Unlock() }

func setupReconciler(t *testing.T, cfg interaction.Config) (*interaction.Reconciler, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	for _, id := range []string{"two-sum", "jump-game"} {
		if err := store.SeedExercise(context.Background(), id); err != nil {
			t.Fatalf("SeedExercise() error = %v", err)
		}
	}
	return interaction.NewReconciler(store, catalog{"two-sum": true, "jump-game": true}, cfg), store
}

func TestReconciler_Toggle(t *testing.T) {
	pub := &capturePublisher{}
	rec, _ := setupReconciler(t, interaction.Config{Publisher: pub})
	ctx := context.Background()

	out, err := rec.Toggle(ctx, domain.IntentLike, "u1", "two-sum")
	if err != nil {
		t.Fatalf("Toggle(like) error = %v", err)
	}
	if out.Facts.Affinity != domain.AffinityLiked || out.Counters.Likes != 1 {
		t.Errorf("after like = %+v", out)
	}

	out, err = rec.Toggle(ctx, domain.IntentDislike, "u1", "two-sum")
	if err != nil {
		t.Fatalf("Toggle(dislike) error = %v", err)
	}
	if out.Facts.Affinity != domain.AffinityDisliked || out.Counters != (domain.Counters{Likes: 0, Dislikes: 1}) {
		t.Errorf("after dislike = %+v", out)
	}

	out, err = rec.Toggle(ctx, domain.IntentLike, "u2", "two-sum")
	if err != nil {
		t.Fatalf("Toggle(like) error = %v", err)
	}
	if out.Counters != (domain.Counters{Likes: 1, Dislikes: 1}) {
		t.Errorf("counters = %+v, want {1 1}", out.Counters)
	}

	snap, err := rec.Facts(ctx, "u1", "two-sum")
	if err != nil {
		t.Fatalf("Facts() error = %v", err)
	}
	if snap.Facts.Affinity != domain.AffinityDisliked {
		t.Errorf("u1 affinity = %v, want disliked", snap.Facts.Affinity)
	}

	if len(pub.events) != 3 {
		t.Fatalf("published %d events, want 3", len(pub.events))
	}
	last := pub.events[2]
	if last.UserID != "u2" || last.Intent != domain.IntentLike || last.Likes != 1 {
		t.Errorf("last event = %+v", last)
	}
}

func TestReconciler_ToggleIdempotentPair(t *testing.T) {
	rec, _ := setupReconciler(t, interaction.Config{})
	ctx := context.Background()

	for _, intent := range domain.Intents() {
		before, _ := rec.Facts(ctx, "u1", "jump-game")
		if _, err := rec.Toggle(ctx, intent, "u1", "jump-game"); err != nil {
			t.Fatalf("Toggle(%s) error = %v", intent, err)
		}
		after, err := rec.Toggle(ctx, intent, "u1", "jump-game")
		if err != nil {
			t.Fatalf("Toggle(%s) error = %v", intent, err)
		}
		if after != before {
			t.Errorf("%s twice = %+v, want %+v", intent, after, before)
		}
	}
}

func TestReconciler_Validation(t *testing.T) {
	rec, _ := setupReconciler(t, interaction.Config{})
	ctx := context.Background()

	tests := []struct {
		name    string
		intent  domain.Intent
		userID  string
		exID    string
		wantErr error
	}{
		{"anonymous", domain.IntentLike, "", "two-sum", domain.ErrUnauthenticated},
		{"anonymous is validation", domain.IntentStar, "", "two-sum", domain.ErrValidation},
		{"unknown exercise", domain.IntentLike, "u1", "nope", domain.ErrExerciseNotFound},
		{"unknown intent", domain.Intent("boost"), "u1", "two-sum", domain.ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rec.Toggle(ctx, tc.intent, tc.userID, tc.exID)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Toggle() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReconciler_MarkSolvedIsSetOnly(t *testing.T) {
	pub := &capturePublisher{}
	rec, _ := setupReconciler(t, interaction.Config{Publisher: pub})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := rec.MarkSolved(ctx, "u1", "two-sum")
		if err != nil {
			t.Fatalf("MarkSolved() error = %v", err)
		}
		if !out.Facts.Solved {
			t.Errorf("call %d: Solved = false, want true", i+1)
		}
	}
	if len(pub.events) != 1 {
		t.Errorf("published %d events, want 1 (second call is a no-op)", len(pub.events))
	}

	// Toggle is the only way to clear it
	out, err := rec.Toggle(ctx, domain.IntentSolve, "u1", "two-sum")
	if err != nil {
		t.Fatalf("Toggle(solve) error = %v", err)
	}
	if out.Facts.Solved {
		t.Error("Toggle(solve) should clear the flag")
	}
}

func TestReconciler_PublishFailureIsIgnored(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	rec, _ := setupReconciler(t, interaction.Config{Publisher: pub})

	if _, err := rec.Toggle(context.Background(), domain.IntentStar, "u1", "two-sum"); err != nil {
		t.Errorf("Toggle() error = %v, want nil despite publish failure", err)
	}
}

func TestReconciler_FactsAnonymous(t *testing.T) {
	rec, _ := setupReconciler(t, interaction.Config{})
	ctx := context.Background()

	if _, err := rec.Toggle(ctx, domain.IntentLike, "u1", "two-sum"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	out, err := rec.Facts(ctx, "", "two-sum")
	if err != nil {
		t.Fatalf("Facts() error = %v", err)
	}
	if out.Facts != (domain.Facts{}) {
		t.Errorf("anonymous facts = %+v, want zero", out.Facts)
	}
	if out.Counters.Likes != 1 {
		t.Errorf("Likes = %d, want 1", out.Counters.Likes)
	}
}

// blockingStore holds every transaction until release is closed
type blockingStore struct {
	domain.DocumentStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.entered <- struct{}{}
	<-s.release
	return s.DocumentStore.RunTransaction(ctx, fn)
}

func TestReconciler_BusyPair(t *testing.T) {
	store := &blockingStore{
		DocumentStore: memory.NewStore(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	recorder := &countingRecorder{}
	rec := interaction.NewReconciler(store, catalog{"two-sum": true}, interaction.Config{Recorder: recorder})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := rec.Toggle(ctx, domain.IntentLike, "u1", "two-sum")
		done <- err
	}()
	<-store.entered

	if _, err := rec.Toggle(ctx, domain.IntentLike, "u1", "two-sum"); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("concurrent Toggle() error = %v, want ErrBusy", err)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first Toggle() error = %v", err)
	}

	out, err := rec.Facts(ctx, "u1", "two-sum")
	if err != nil {
		t.Fatalf("Facts() error = %v", err)
	}
	if out.Facts.Affinity != domain.AffinityLiked || out.Counters.Likes != 1 {
		t.Errorf("state = %+v, want a single like", out)
	}
	if recorder.busy != 1 {
		t.Errorf("busy observations = %d, want 1", recorder.busy)
	}
}

// conflictStore always fails commits with ErrConflict
type conflictStore struct {
	domain.DocumentStore
	mu        sync.Mutex
	attempts  int
	onAttempt func()
}

func (s *conflictStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	if s.onAttempt != nil {
		s.onAttempt()
	}
	return domain.ErrConflict
}

func TestReconciler_RetriesExhausted(t *testing.T) {
	store := &conflictStore{DocumentStore: memory.NewStore()}
	recorder := &countingRecorder{}
	rec := interaction.NewReconciler(store, catalog{"two-sum": true}, interaction.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Recorder:     recorder,
	})

	_, err := rec.Toggle(context.Background(), domain.IntentLike, "u1", "two-sum")
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("Toggle() error = %v, want ErrTransient", err)
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Toggle() error = %v, want it to wrap ErrConflict", err)
	}
	if store.attempts != 3 {
		t.Errorf("attempts = %d, want 3", store.attempts)
	}
	if recorder.exhausted != 1 || recorder.conflicts != 3 {
		t.Errorf("recorder = %+v", recorder)
	}
	if recorder.transitions != 0 {
		t.Error("no transition should be recorded")
	}
}

func TestReconciler_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &conflictStore{DocumentStore: memory.NewStore(), onAttempt: cancel}
	recorder := &countingRecorder{}
	rec := interaction.NewReconciler(store, catalog{"two-sum": true}, interaction.Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Recorder:     recorder,
	})

	start := time.Now()
	_, err := rec.Toggle(ctx, domain.IntentLike, "u1", "two-sum")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Toggle() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, domain.ErrTransient) {
		t.Errorf("Toggle() error = %v, must not be ErrTransient", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Toggle() took %v, want it to stop at cancellation", elapsed)
	}
	if recorder.exhausted != 0 {
		t.Errorf("exhausted = %d, want 0", recorder.exhausted)
	}
}

// flakyStore fails the first n commits with ErrConflict
type flakyStore struct {
	domain.DocumentStore
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return domain.ErrConflict
	}
	s.mu.Unlock()
	return s.DocumentStore.RunTransaction(ctx, fn)
}

func TestReconciler_RetriesConflict(t *testing.T) {
	store := &flakyStore{DocumentStore: memory.NewStore(), fails: 2}
	rec := interaction.NewReconciler(store, catalog{"two-sum": true}, interaction.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	})

	out, err := rec.Toggle(context.Background(), domain.IntentDislike, "u1", "two-sum")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if out.Counters.Dislikes != 1 {
		t.Errorf("Dislikes = %d, want 1", out.Counters.Dislikes)
	}
}

func TestReconciler_ConcurrentUsers(t *testing.T) {
	rec, store := setupReconciler(t, interaction.Config{MaxAttempts: 50, InitialDelay: time.Millisecond})
	ctx := context.Background()

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := string(rune('a' + i))
			if _, err := rec.Toggle(ctx, domain.IntentLike, userID, "two-sum"); err != nil {
				t.Errorf("Toggle() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	ex, err := store.GetExercise(ctx, "two-sum")
	if err != nil {
		t.Fatalf("GetExercise() error = %v", err)
	}
	if ex.Likes != users {
		t.Errorf("Likes = %d, want %d", ex.Likes, users)
	}
}
