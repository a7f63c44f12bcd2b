package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// ExerciseCatalog resolves exercise ids
type ExerciseCatalog interface {
	GetExercise(id string) (*domain.Exercise, error)
}

// Recorder receives reconciler metrics
type Recorder interface {
	ObserveTransition(intent domain.Intent)
	ObserveConflict()
	ObserveExhausted()
	ObserveBusy()
}

// Config holds reconciler configuration
type Config struct {
	// MaxAttempts bounds the optimistic transaction retries (default: 5)
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Publisher receives an event per committed transition; optional
	Publisher domain.EventPublisher

	// Recorder receives metrics; optional
	Recorder Recorder
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
	}
}

// Outcome is the state after a committed transition
type Outcome struct {
	Facts    domain.Facts    `json:"facts"`
	Counters domain.Counters `json:"counters"`
}

// Reconciler applies interaction intents as optimistic transactions over
// the user document and the exercise document. Either both documents are
// committed or neither is.
type Reconciler struct {
	store     domain.DocumentStore
	catalog   ExerciseCatalog
	guard     *PairGuard
	retrier   retry.Retry[Outcome]
	publisher domain.EventPublisher
	recorder  Recorder
}

// NewReconciler creates a new reconciler
func NewReconciler(store domain.DocumentStore, catalog ExerciseCatalog, cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Publisher == nil {
		cfg.Publisher = domain.NopPublisher{}
	}

	return &Reconciler{
		store:   store,
		catalog: catalog,
		guard:   NewPairGuard(),
		retrier: retry.New[Outcome](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrTransient)
			},
		}),
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
	}
}

// Guard returns the pair guard shared by every operation on a pair. Callers
// that hold a pair must release it before calling MarkSolved.
func (r *Reconciler) Guard() *PairGuard {
	return r.guard
}

// Toggle applies intent for the pair. A second intent for a pair that is
// still in flight fails fast with domain.ErrBusy.
func (r *Reconciler) Toggle(ctx context.Context, intent domain.Intent, userID, exerciseID string) (Outcome, error) {
	if userID == "" {
		return Outcome{}, domain.ErrUnauthenticated
	}
	if _, err := r.catalog.GetExercise(exerciseID); err != nil {
		return Outcome{}, err
	}
	if _, _, err := Apply(intent, domain.Facts{}, domain.Counters{}); err != nil {
		return Outcome{}, err
	}

	release, ok := r.guard.TryAcquire(userID, exerciseID)
	if !ok {
		if r.recorder != nil {
			r.recorder.ObserveBusy()
		}
		return Outcome{}, fmt.Errorf("%w: %s on %s", domain.ErrBusy, intent, exerciseID)
	}
	defer release()

	out, changed, err := r.transact(ctx, userID, exerciseID, func(f domain.Facts, c domain.Counters) (domain.Facts, domain.Counters, bool, error) {
		nf, nc, err := Apply(intent, f, c)
		return nf, nc, true, err
	})
	if err != nil {
		return Outcome{}, err
	}
	if changed {
		r.committed(ctx, intent, userID, exerciseID, out)
	}
	return out, nil
}

// MarkSolved records a passing submission. Unlike Toggle it only ever sets
// the flag and waits for the pair instead of failing fast.
func (r *Reconciler) MarkSolved(ctx context.Context, userID, exerciseID string) (Outcome, error) {
	if userID == "" {
		return Outcome{}, domain.ErrUnauthenticated
	}
	if _, err := r.catalog.GetExercise(exerciseID); err != nil {
		return Outcome{}, err
	}

	release, err := r.guard.Acquire(ctx, userID, exerciseID)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	out, changed, err := r.transact(ctx, userID, exerciseID, func(f domain.Facts, c domain.Counters) (domain.Facts, domain.Counters, bool, error) {
		if f.Solved {
			return f, c, false, nil
		}
		f.Solved = true
		return f, c, true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if changed {
		r.committed(ctx, domain.IntentSolve, userID, exerciseID, out)
	}
	return out, nil
}

// Facts returns the current snapshot for the pair. An anonymous caller
// gets empty facts with the exercise counters.
func (r *Reconciler) Facts(ctx context.Context, userID, exerciseID string) (Outcome, error) {
	if _, err := r.catalog.GetExercise(exerciseID); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	ex, err := r.store.GetExercise(ctx, exerciseID)
	switch {
	case err == nil:
		out.Counters = ex.Counters()
	case !errors.Is(err, domain.ErrNotFound):
		return Outcome{}, fmt.Errorf("get exercise: %w", err)
	}

	if userID == "" {
		return out, nil
	}
	user, err := r.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		out.Facts = user.Facts(exerciseID)
	case !errors.Is(err, domain.ErrNotFound):
		return Outcome{}, fmt.Errorf("get user: %w", err)
	}
	return out, nil
}

type mutation func(domain.Facts, domain.Counters) (domain.Facts, domain.Counters, bool, error)

// transact runs one read-compute-write cycle per attempt. Conflicts
// restart the whole cycle; exhausting the attempts yields ErrTransient.
func (r *Reconciler) transact(ctx context.Context, userID, exerciseID string, mutate mutation) (Outcome, bool, error) {
	var (
		changed bool
		lastErr error
	)

	out, err := r.retrier.Do(ctx, func(ctx context.Context) (Outcome, error) {
		var result Outcome
		changed = false

		err := r.store.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
			user, err := tx.GetUser(ctx, userID)
			if errors.Is(err, domain.ErrNotFound) {
				user = domain.NewUserDocument(userID)
			} else if err != nil {
				return err
			}

			ex, err := tx.GetExercise(ctx, exerciseID)
			if errors.Is(err, domain.ErrNotFound) {
				ex = &domain.ExerciseDocument{ID: exerciseID}
			} else if err != nil {
				return err
			}

			facts, counters, write, err := mutate(user.Facts(exerciseID), ex.Counters())
			if err != nil {
				return err
			}
			result = Outcome{Facts: facts, Counters: counters}
			if !write {
				return nil
			}

			user.SetFacts(exerciseID, facts)
			ex.Likes = counters.Likes
			ex.Dislikes = counters.Dislikes
			if err := tx.PutUser(ctx, user); err != nil {
				return err
			}
			if err := tx.PutExercise(ctx, ex); err != nil {
				return err
			}
			changed = true
			return nil
		})

		lastErr = err
		if err != nil {
			changed = false
			if errors.Is(err, domain.ErrConflict) && r.recorder != nil {
				r.recorder.ObserveConflict()
			}
			return Outcome{}, err
		}
		return result, nil
	})
	if err == nil {
		return out, changed, nil
	}

	// A caller that gives up mid-backoff is not a contention failure
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, false, fmt.Errorf("reconcile %s: %w", exerciseID, ctxErr)
	}
	if lastErr == nil {
		// The retrier stopped before or between attempts
		return Outcome{}, false, err
	}
	if errors.Is(lastErr, domain.ErrConflict) {
		if r.recorder != nil {
			r.recorder.ObserveExhausted()
		}
		slog.Warn("reconciliation retries exhausted",
			"user_id", userID,
			"exercise_id", exerciseID,
			"error", lastErr,
		)
		return Outcome{}, false, fmt.Errorf("%w: %w", domain.ErrTransient, lastErr)
	}
	return Outcome{}, false, lastErr
}

// committed emits metrics and the interaction event for a transition
func (r *Reconciler) committed(ctx context.Context, intent domain.Intent, userID, exerciseID string, out Outcome) {
	if r.recorder != nil {
		r.recorder.ObserveTransition(intent)
	}

	event := domain.NewInteractionEvent(userID, exerciseID, intent, out.Facts, out.Counters)
	if err := r.publisher.PublishInteraction(ctx, event); err != nil {
		slog.Warn("failed to publish interaction event",
			"event_id", event.ID,
			"exercise_id", exerciseID,
			"error", err,
		)
	}

	slog.Info("interaction committed",
		"user_id", userID,
		"exercise_id", exerciseID,
		"intent", intent,
		"affinity", out.Facts.Affinity,
		"likes", out.Counters.Likes,
		"dislikes", out.Counters.Dislikes,
	)
}
