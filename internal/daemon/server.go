package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/kata/internal/bootstrap"
	"github.com/felixgeelhaar/kata/internal/config"
	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/exercise"
	"github.com/felixgeelhaar/kata/internal/interaction"
	"github.com/felixgeelhaar/kata/internal/submission"
)

// Version is reported by /v1/status
var Version = "0.1.0"

// UserIDHeader carries the caller-asserted user identity
const UserIDHeader = "X-User-ID"

// maxBodyBytes bounds request bodies; drafts are capped lower by the cache
const maxBodyBytes = 1 << 20

// Catalog is the exercise registry as seen by the HTTP surface
type Catalog interface {
	GetExercise(id string) (*domain.Exercise, error)
	ListExercises() []*domain.Exercise
	GetNextExercise(id string) (*domain.Exercise, error)
	GetPrevExercise(id string) (*domain.Exercise, error)
	Stats() exercise.RegistryStats
}

// Counters reads exercise aggregates outside a transaction
type Counters interface {
	GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error)
}

// Drafts is the draft cache
type Drafts interface {
	Get(ctx context.Context, userID, exerciseID string) (string, error)
	Put(ctx context.Context, userID, exerciseID, code string) error
}

// Submitter runs submissions
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

// Interactions applies and reads interaction state
type Interactions interface {
	Toggle(ctx context.Context, intent domain.Intent, userID, exerciseID string) (interaction.Outcome, error)
	Facts(ctx context.Context, userID, exerciseID string) (interaction.Outcome, error)
}

// RequestObserver records served requests
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// Deps are the services behind the HTTP API
type Deps struct {
	Catalog      Catalog
	Counters     Counters
	Drafts       Drafts
	Submissions  Submitter
	Interactions Interactions

	// Metrics serves /metrics and observes requests; optional
	Metrics interface {
		RequestObserver
		Handler() http.Handler
	}

	// Executor names the sandbox backend for /v1/status
	Executor string
}

// Server is the kata daemon HTTP server
type Server struct {
	cfg    *config.LocalConfig
	deps   Deps
	server *http.Server
	router *http.ServeMux

	limiter  ratelimit.RateLimiter
	validate *validator.Validate
	started  time.Time
}

// NewServer creates a server over a wired application
func NewServer(app *bootstrap.App) *Server {
	return New(app.Config, Deps{
		Catalog:      app.Registry,
		Counters:     app.Store,
		Drafts:       app.Drafts,
		Submissions:  app.Submissions,
		Interactions: app.Reconciler,
		Metrics:      app.Metrics,
		Executor:     app.Evaluator.ExecutorName(),
	})
}

// New creates a server from explicit dependencies
func New(cfg *config.LocalConfig, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		router:   http.NewServeMux(),
		validate: validator.New(),
		started:  time.Now(),
	}

	rate := cfg.Daemon.RatePerSecond
	if rate > 0 {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate * 3,
			Interval: time.Second,
		})
	}

	s.setupRoutes()

	var observer RequestObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	handler := recoveryMiddleware(correlationIDMiddleware(loggingMiddleware(rateLimitMiddleware(s.router, s.limiter), observer)))

	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	if s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	// Exercises
	s.router.HandleFunc("GET /v1/exercises", s.handleListExercises)
	s.router.HandleFunc("GET /v1/exercises/{id}", s.handleGetExercise)
	s.router.HandleFunc("GET /v1/exercises/{id}/next", s.handleNextExercise)
	s.router.HandleFunc("GET /v1/exercises/{id}/prev", s.handlePrevExercise)

	// Drafts
	s.router.HandleFunc("GET /v1/exercises/{id}/draft", s.handleGetDraft)
	s.router.HandleFunc("PUT /v1/exercises/{id}/draft", s.handlePutDraft)

	// Submissions & interactions
	s.router.HandleFunc("POST /v1/exercises/{id}/submissions", s.handleSubmit)
	s.router.HandleFunc("POST /v1/exercises/{id}/interactions/{intent}", s.handleInteraction)
	s.router.HandleFunc("GET /v1/exercises/{id}/facts", s.handleFacts)
}

// Handler returns the full middleware chain
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting kata daemon",
		"addr", s.server.Addr,
		"executor", s.deps.Executor,
		"exercises", s.deps.Catalog.Stats().ExerciseCount,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Catalog.Stats()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"catalog": map[string]any{
			"source":     stats.Source,
			"exercises":  stats.ExerciseCount,
			"categories": stats.Categories,
		},
		"runner": map[string]any{
			"executor":   s.deps.Executor,
			"timeout_ms": s.cfg.Runner.TimeoutMS,
		},
		"storage": s.cfg.Storage.Driver,
		"drafts":  s.cfg.Drafts.Driver,
		"events":  s.cfg.Events.Enabled,
	})
}

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	exercises := s.deps.Catalog.ListExercises()
	result := make([]exerciseSummary, 0, len(exercises))
	for _, ex := range exercises {
		result = append(result, summarize(ex))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"exercises": result,
	})
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Catalog.GetExercise(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view := detail(ex)
	if doc, err := s.deps.Counters.GetExercise(r.Context(), ex.ID); err == nil {
		view.Counters = doc.Counters()
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}

	if userID := userIDFrom(r); userID != "" {
		out, err := s.deps.Interactions.Facts(r.Context(), userID, ex.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		view.Facts = &out.Facts
		view.Counters = out.Counters
	}

	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleNextExercise(w http.ResponseWriter, r *http.Request) {
	s.navigate(w, r, s.deps.Catalog.GetNextExercise)
}

func (s *Server) handlePrevExercise(w http.ResponseWriter, r *http.Request) {
	s.navigate(w, r, s.deps.Catalog.GetPrevExercise)
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request, step func(string) (*domain.Exercise, error)) {
	ex, err := step(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, summarize(ex))
}

// Draft handlers

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	exerciseID := r.PathValue("id")
	code, err := s.deps.Drafts.Get(r.Context(), userIDFrom(r), exerciseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, draftResponse{ExerciseID: exerciseID, Code: code})
}

func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var req putDraftRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	exerciseID := r.PathValue("id")
	if err := s.deps.Drafts.Put(r.Context(), userIDFrom(r), exerciseID, *req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, draftResponse{ExerciseID: exerciseID, Code: *req.Code})
}

// Submission & interaction handlers

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Submissions.Submit(r.Context(), submission.Request{
		ExerciseID:  r.PathValue("id"),
		Source:      req.Source,
		UserID:      userIDFrom(r),
		SubmittedAt: time.Now(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, submitResponse{
		Result:  result,
		Summary: result.Verdict.Summary(),
	})
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	intent, err := domain.ParseIntent(r.PathValue("intent"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.deps.Interactions.Toggle(r.Context(), intent, userIDFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Interactions.Facts(r.Context(), userIDFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// Helper methods

// decode reads a JSON body into dst and validates it. An empty body is
// accepted only when allowEmpty is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrValidation, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// writeError maps a service error onto a status code
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"correlation_id", GetCorrelationID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	s.jsonError(w, status, message, err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "user id required"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrExerciseNotFound), errors.Is(err, domain.ErrFixtureNotFound):
		return http.StatusNotFound, "exercise not found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusTooManyRequests, "operation already in progress"
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}

func userIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}
