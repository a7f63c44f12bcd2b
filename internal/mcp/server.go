// Package mcp exposes kata to editors and agents over the Model Context
// Protocol.
package mcp

import (
	"context"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/interaction"
	"github.com/felixgeelhaar/kata/internal/submission"
)

// Catalog lists and resolves exercises
type Catalog interface {
	GetExercise(id string) (*domain.Exercise, error)
	ListExercises() []*domain.Exercise
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

// Server wraps the MCP server with kata functionality
type Server struct {
	mcpServer    *server.Server
	catalog      Catalog
	drafts       Drafts
	submissions  Submitter
	interactions Interactions
	validate     *validator.Validate
}

// Config contains the services behind the tools
type Config struct {
	Catalog      Catalog
	Drafts       Drafts
	Submissions  Submitter
	Interactions Interactions
	Version      string
}

// NewServer creates a new MCP server for kata
func NewServer(cfg Config) *Server {
	s := &Server{
		catalog:      cfg.Catalog,
		drafts:       cfg.Drafts,
		submissions:  cfg.Submissions,
		interactions: cfg.Interactions,
		validate:     validator.New(),
	}

	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "kata",
		Version: version,
	}, server.WithInstructions(`
kata evaluates JavaScript solutions to coding exercises against hidden
fixtures and tracks per-user progress.

Available tools:
- kata_list: List exercises in catalog order
- kata_exercise: Show an exercise with counters and your facts
- kata_submit: Evaluate a solution (empty source submits the saved draft)
- kata_toggle: Toggle like, dislike, star or mark solved
- kata_draft_get: Read your in-progress code
- kata_draft_put: Save your in-progress code

Pass user_id to act as a user. Without it submissions are evaluated but
nothing is recorded.
`))

	s.registerTools()

	return s
}

// registerTools registers all kata MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("kata_list").
		Description("List exercises in catalog order, optionally filtered by difficulty.").
		Handler(s.handleList)

	s.mcpServer.Tool("kata_exercise").
		Description("Show an exercise: statement, examples, starter code, counters and the user's facts.").
		Handler(s.handleExercise)

	s.mcpServer.Tool("kata_submit").
		Description("Evaluate a JavaScript solution against the exercise fixtures.").
		Handler(s.handleSubmit)

	s.mcpServer.Tool("kata_toggle").
		Description("Apply an interaction: like, dislike, star or solve.").
		Handler(s.handleToggle)

	s.mcpServer.Tool("kata_draft_get").
		Description("Read the saved draft, or the starter code when there is none.").
		Handler(s.handleDraftGet)

	s.mcpServer.Tool("kata_draft_put").
		Description("Save in-progress code for an exercise.").
		Handler(s.handleDraftPut)
}

// Input/Output types for tools

type ListInput struct {
	Difficulty string `json:"difficulty,omitempty" jsonschema:"description=Only list this difficulty,enum=easy,enum=medium,enum=hard" validate:"omitempty,oneof=easy medium hard"`
}

type ExerciseSummary struct {
	ID         string `json:"id"`
	Order      int    `json:"order"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Category   string `json:"category"`
}

type ListOutput struct {
	Exercises []ExerciseSummary `json:"exercises"`
}

type ExerciseInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID such as two-sum" validate:"required"`
	UserID     string `json:"user_id,omitempty" jsonschema:"description=User to report facts for"`
}

type ExerciseOutput struct {
	ExerciseSummary
	Description string          `json:"description"`
	EntryPoint  string          `json:"entry_point"`
	StarterCode string          `json:"starter_code"`
	Examples    []string        `json:"examples"`
	Constraints []string        `json:"constraints"`
	Counters    domain.Counters `json:"counters"`
	Facts       *domain.Facts   `json:"facts,omitempty"`
}

type SubmitInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID such as two-sum" validate:"required"`
	Source     string `json:"source,omitempty" jsonschema:"description=JavaScript source defining the entry point; empty submits the saved draft"`
	UserID     string `json:"user_id,omitempty" jsonschema:"description=User the result is recorded for"`
}

type SubmitOutput struct {
	Verdict   string        `json:"verdict"`
	Summary   string        `json:"summary"`
	Solved    bool          `json:"solved"`
	Facts     *domain.Facts `json:"facts,omitempty"`
	Logs      []string      `json:"logs,omitempty"`
	SolvedErr string        `json:"solved_error,omitempty"`
}

type ToggleInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID such as two-sum" validate:"required"`
	Intent     string `json:"intent" jsonschema:"description=Interaction to apply,enum=like,enum=dislike,enum=star,enum=solve" validate:"required"`
	UserID     string `json:"user_id" jsonschema:"description=User applying the interaction" validate:"required"`
}

type ToggleOutput struct {
	interaction.Outcome
	Message string `json:"message"`
}

type DraftInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID such as two-sum" validate:"required"`
	UserID     string `json:"user_id,omitempty" jsonschema:"description=Draft owner"`
}

type DraftPutInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID such as two-sum" validate:"required"`
	UserID     string `json:"user_id" jsonschema:"description=Draft owner" validate:"required"`
	Code       string `json:"code" jsonschema:"description=Code to save"`
}

type DraftOutput struct {
	ExerciseID string `json:"exercise_id"`
	Code       string `json:"code"`
	Saved      bool   `json:"saved,omitempty"`
}

// Tool handlers

func (s *Server) handleList(ctx context.Context, input ListInput) (ListOutput, error) {
	if err := s.check(input); err != nil {
		return ListOutput{}, err
	}

	out := ListOutput{Exercises: []ExerciseSummary{}}
	for _, ex := range s.catalog.ListExercises() {
		if input.Difficulty != "" && string(ex.Difficulty) != input.Difficulty {
			continue
		}
		out.Exercises = append(out.Exercises, summarize(ex))
	}
	return out, nil
}

func (s *Server) handleExercise(ctx context.Context, input ExerciseInput) (ExerciseOutput, error) {
	if err := s.check(input); err != nil {
		return ExerciseOutput{}, err
	}

	ex, err := s.catalog.GetExercise(input.ExerciseID)
	if err != nil {
		return ExerciseOutput{}, err
	}

	snapshot, err := s.interactions.Facts(ctx, input.UserID, ex.ID)
	if err != nil {
		return ExerciseOutput{}, fmt.Errorf("load facts: %w", err)
	}

	out := ExerciseOutput{
		ExerciseSummary: summarize(ex),
		Description:     ex.Description,
		EntryPoint:      ex.EntryPoint,
		StarterCode:     ex.StarterCode,
		Examples:        make([]string, 0, len(ex.Examples)),
		Constraints:     ex.Constraints,
		Counters:        snapshot.Counters,
	}
	for _, e := range ex.Examples {
		out.Examples = append(out.Examples, fmt.Sprintf("Input: %s\nOutput: %s", e.Input, e.Output))
	}
	if input.UserID != "" {
		out.Facts = &snapshot.Facts
	}
	return out, nil
}

func (s *Server) handleSubmit(ctx context.Context, input SubmitInput) (SubmitOutput, error) {
	if err := s.check(input); err != nil {
		return SubmitOutput{}, err
	}

	result, err := s.submissions.Submit(ctx, submission.Request{
		ExerciseID: input.ExerciseID,
		Source:     input.Source,
		UserID:     strings.TrimSpace(input.UserID),
	})
	if err != nil {
		return SubmitOutput{}, fmt.Errorf("submit failed: %w", err)
	}

	return SubmitOutput{
		Verdict:   string(result.Verdict.Kind),
		Summary:   result.Verdict.Summary(),
		Solved:    result.Solved,
		Facts:     result.Facts,
		Logs:      result.Verdict.Logs,
		SolvedErr: result.SolvedErr,
	}, nil
}

func (s *Server) handleToggle(ctx context.Context, input ToggleInput) (ToggleOutput, error) {
	if err := s.check(input); err != nil {
		return ToggleOutput{}, err
	}

	intent, err := domain.ParseIntent(input.Intent)
	if err != nil {
		return ToggleOutput{}, err
	}

	out, err := s.interactions.Toggle(ctx, intent, strings.TrimSpace(input.UserID), input.ExerciseID)
	if err != nil {
		return ToggleOutput{}, fmt.Errorf("%s failed: %w", intent, err)
	}

	return ToggleOutput{
		Outcome: out,
		Message: fmt.Sprintf("%s: %s, starred=%t, solved=%t (likes %d, dislikes %d)",
			input.ExerciseID, out.Facts.Affinity, out.Facts.Starred, out.Facts.Solved,
			out.Counters.Likes, out.Counters.Dislikes),
	}, nil
}

func (s *Server) handleDraftGet(ctx context.Context, input DraftInput) (DraftOutput, error) {
	if err := s.check(input); err != nil {
		return DraftOutput{}, err
	}

	code, err := s.drafts.Get(ctx, strings.TrimSpace(input.UserID), input.ExerciseID)
	if err != nil {
		return DraftOutput{}, err
	}
	return DraftOutput{ExerciseID: input.ExerciseID, Code: code}, nil
}

func (s *Server) handleDraftPut(ctx context.Context, input DraftPutInput) (DraftOutput, error) {
	if err := s.check(input); err != nil {
		return DraftOutput{}, err
	}

	if err := s.drafts.Put(ctx, strings.TrimSpace(input.UserID), input.ExerciseID, input.Code); err != nil {
		return DraftOutput{}, err
	}
	return DraftOutput{ExerciseID: input.ExerciseID, Code: input.Code, Saved: true}, nil
}

// check validates tool input against its struct tags
func (s *Server) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func summarize(ex *domain.Exercise) ExerciseSummary {
	return ExerciseSummary{
		ID:         ex.ID,
		Order:      ex.Order,
		Title:      ex.Title,
		Difficulty: string(ex.Difficulty),
		Category:   ex.Category,
	}
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
