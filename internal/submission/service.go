// Package submission runs a submission end to end: draft, sandbox and the
// solved side effect.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/interaction"
)

// Evaluator produces a verdict for source code
type Evaluator interface {
	Evaluate(ctx context.Context, exerciseID, source string) (domain.Verdict, error)
}

// Drafts is the draft cache used for empty submissions
type Drafts interface {
	Get(ctx context.Context, userID, exerciseID string) (string, error)
	Put(ctx context.Context, userID, exerciseID, code string) error
}

// SolvedRecorder records passing submissions
type SolvedRecorder interface {
	MarkSolved(ctx context.Context, userID, exerciseID string) (interaction.Outcome, error)
	Facts(ctx context.Context, userID, exerciseID string) (interaction.Outcome, error)
}

// ExerciseCatalog resolves exercise ids
type ExerciseCatalog interface {
	GetExercise(id string) (*domain.Exercise, error)
}

// Request is a single submission
type Request struct {
	ExerciseID string
	Source     string
	// UserID is empty for anonymous submissions
	UserID      string
	SubmittedAt time.Time
}

// Result is the outcome of a submission
type Result struct {
	Verdict domain.Verdict `json:"verdict"`
	Solved  bool           `json:"solved"`
	Facts   *domain.Facts  `json:"facts,omitempty"`
	// SolvedErr is set when the verdict passed but recording it failed
	SolvedErr string `json:"solved_error,omitempty"`
}

// Service coordinates submissions
type Service struct {
	catalog   ExerciseCatalog
	drafts    Drafts
	evaluator Evaluator
	solved    SolvedRecorder
	publisher domain.EventPublisher
	guard     *interaction.PairGuard
}

// NewService creates a submission service. publisher may be nil. When
// solved exposes a pair guard, evaluation holds the pair on it so that a
// toggle on the same pair fails fast until the verdict is in.
func NewService(catalog ExerciseCatalog, drafts Drafts, evaluator Evaluator, solved SolvedRecorder, publisher domain.EventPublisher) *Service {
	if publisher == nil {
		publisher = domain.NopPublisher{}
	}
	guard := interaction.NewPairGuard()
	if g, ok := solved.(interface{ Guard() *interaction.PairGuard }); ok && g.Guard() != nil {
		guard = g.Guard()
	}
	return &Service{
		catalog:   catalog,
		drafts:    drafts,
		evaluator: evaluator,
		solved:    solved,
		publisher: publisher,
		guard:     guard,
	}
}

// Submit evaluates a submission and records a pass for authenticated users.
// Anonymous submissions are never serialised against each other.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	if _, err := s.catalog.GetExercise(req.ExerciseID); err != nil {
		return Result{}, err
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}

	source, err := s.resolveSource(ctx, req)
	if err != nil {
		return Result{}, err
	}

	release := func() {}
	if req.UserID != "" {
		var ok bool
		release, ok = s.guard.TryAcquire(req.UserID, req.ExerciseID)
		if !ok {
			return Result{}, fmt.Errorf("%w: submission for %s", domain.ErrBusy, req.ExerciseID)
		}
		defer release()
	}

	verdict, err := s.evaluator.Evaluate(ctx, req.ExerciseID, source)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate: %w", err)
	}

	result := Result{Verdict: verdict}
	if req.UserID != "" {
		// MarkSolved claims the pair itself
		release()
		s.recordFacts(ctx, req, &result)
	}

	event := domain.NewVerdictEvent(req.UserID, req.ExerciseID, verdict)
	if err := s.publisher.PublishVerdict(ctx, event); err != nil {
		slog.Warn("failed to publish verdict event",
			"event_id", event.ID,
			"exercise_id", req.ExerciseID,
			"error", err,
		)
	}

	slog.Info("submission evaluated",
		"user_id", req.UserID,
		"exercise_id", req.ExerciseID,
		"verdict", verdict.Kind,
		"solved", result.Solved,
		"duration", verdict.Duration,
		"queued", time.Since(req.SubmittedAt),
	)
	return result, nil
}

// resolveSource picks the code to evaluate. Empty submissions fall back to
// the draft; non-empty ones from a user are saved as the draft first.
func (s *Service) resolveSource(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Source) == "" {
		code, err := s.drafts.Get(ctx, req.UserID, req.ExerciseID)
		if err != nil {
			return "", fmt.Errorf("load draft: %w", err)
		}
		return code, nil
	}

	if req.UserID != "" {
		err := s.drafts.Put(ctx, req.UserID, req.ExerciseID, req.Source)
		if errors.Is(err, domain.ErrValidation) {
			return "", err
		}
		if err != nil {
			slog.Warn("failed to save draft", "user_id", req.UserID, "exercise_id", req.ExerciseID, "error", err)
		}
	}
	return req.Source, nil
}

func (s *Service) recordFacts(ctx context.Context, req Request, result *Result) {
	var (
		out interaction.Outcome
		err error
	)
	if result.Verdict.Passed() {
		out, err = s.solved.MarkSolved(ctx, req.UserID, req.ExerciseID)
		if err != nil {
			slog.Error("failed to record solved exercise",
				"user_id", req.UserID,
				"exercise_id", req.ExerciseID,
				"error", err,
			)
			result.SolvedErr = err.Error()
			return
		}
	} else {
		out, err = s.solved.Facts(ctx, req.UserID, req.ExerciseID)
		if err != nil {
			slog.Warn("failed to load facts", "user_id", req.UserID, "exercise_id", req.ExerciseID, "error", err)
			return
		}
	}

	facts := out.Facts
	result.Facts = &facts
	result.Solved = facts.Solved
}
