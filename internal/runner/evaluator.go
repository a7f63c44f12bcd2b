package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// FixtureSource resolves the verification routine for an exercise
type FixtureSource interface {
	Lookup(exerciseID string) (*domain.FixtureSpec, error)
}

// Observer receives one observation per finished evaluation
type Observer interface {
	ObserveEvaluation(executor string, kind domain.VerdictKind, d time.Duration)
}

// Config holds evaluator configuration
type Config struct {
	// Budget is the wall-clock limit for running the fixture cases
	Budget time.Duration

	// Grace is added to Budget for process or container start-up
	Grace time.Duration

	// MaxConcurrent bounds simultaneous evaluations
	MaxConcurrent int

	// QueueTimeout is how long an evaluation waits for a free slot
	QueueTimeout time.Duration
}

// DefaultConfig returns the default evaluator configuration
func DefaultConfig() Config {
	return Config{
		Budget:        3 * time.Second,
		Grace:         2 * time.Second,
		MaxConcurrent: 4,
		QueueTimeout:  5 * time.Second,
	}
}

// Evaluator turns a submission into a Verdict
type Evaluator struct {
	fixtures FixtureSource
	executor Executor
	cfg      Config
	bulkhead bulkhead.Bulkhead[*Output]
	observer Observer
}

// NewEvaluator creates a new evaluator. observer may be nil.
func NewEvaluator(fixtures FixtureSource, executor Executor, cfg Config, observer Observer) *Evaluator {
	def := DefaultConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}

	return &Evaluator{
		fixtures: fixtures,
		executor: executor,
		cfg:      cfg,
		bulkhead: bulkhead.New[*Output](bulkhead.Config{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxQueue:      cfg.MaxConcurrent * 2,
			QueueTimeout:  cfg.QueueTimeout,
		}),
		observer: observer,
	}
}

// ExecutorName returns the name of the underlying executor
func (e *Evaluator) ExecutorName() string {
	return e.executor.Name()
}

// Budget returns the per-evaluation time limit
func (e *Evaluator) Budget() time.Duration {
	return e.cfg.Budget
}

// Evaluate runs source against the fixture of exerciseID. Failing
// submissions are reported through the Verdict; the error is reserved for
// infrastructure problems, an unknown exercise and a saturated sandbox
// (domain.ErrBusy).
func (e *Evaluator) Evaluate(ctx context.Context, exerciseID, source string) (domain.Verdict, error) {
	fixture, err := e.fixtures.Lookup(exerciseID)
	if err != nil {
		return domain.Verdict{}, err
	}

	code, err := ExtractEntryPoint(source, fixture.EntryPoint)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			v := domain.ValidationErrorVerdict(validationReason(err))
			e.observe(v)
			return v, nil
		}
		return domain.Verdict{}, err
	}

	prog, err := BuildProgram(fixture, code, e.cfg.Budget)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("build harness: %w", err)
	}

	var ran atomic.Bool
	out, err := e.bulkhead.Execute(ctx, func(ctx context.Context) (*Output, error) {
		ran.Store(true)
		runCtx, cancel := context.WithTimeout(ctx, e.cfg.Budget+e.cfg.Grace)
		defer cancel()
		return e.executor.Run(runCtx, prog)
	})
	if err != nil {
		if !ran.Load() && ctx.Err() == nil {
			slog.Warn("sandbox saturated", "exercise_id", exerciseID, "error", err)
			return domain.Verdict{}, fmt.Errorf("%w: sandbox saturated", domain.ErrBusy)
		}
		return domain.Verdict{}, fmt.Errorf("run %s executor: %w", e.executor.Name(), err)
	}

	v := classify(out, e.cfg.Budget)
	e.observe(v)

	slog.Debug("evaluation finished",
		"exercise_id", exerciseID,
		"executor", e.executor.Name(),
		"verdict", v.Kind,
		"duration", v.Duration,
	)
	return v, nil
}

func (e *Evaluator) observe(v domain.Verdict) {
	if e.observer != nil {
		e.observer.ObserveEvaluation(e.executor.Name(), v.Kind, v.Duration)
	}
}

// classify maps raw executor output to a verdict
func classify(out *Output, budget time.Duration) domain.Verdict {
	var v domain.Verdict
	switch {
	case out.TimedOut:
		v = domain.TimeoutVerdict(budget)
	default:
		if r, ok := parseReport(out.Stdout); ok {
			v = r.verdict(budget)
		} else {
			v = domain.RuntimeErrorVerdict(crashReason(out))
		}
	}
	v.Duration = out.Duration
	return v
}

// crashReason describes a run that ended without a report
func crashReason(out *Output) string {
	if strings.Contains(out.Stderr, "heap out of memory") || out.ExitCode == 137 {
		return "memory limit exceeded"
	}
	lines := strings.Split(strings.TrimSpace(out.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return truncate(line, 500)
		}
	}
	return fmt.Sprintf("process exited with code %d without a result", out.ExitCode)
}

func validationReason(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
}
