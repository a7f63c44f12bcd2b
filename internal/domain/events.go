package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// VerdictEvent is emitted after every evaluation
type VerdictEvent struct {
	ID         uuid.UUID   `json:"id"`
	UserID     string      `json:"user_id,omitempty"`
	ExerciseID string      `json:"exercise_id"`
	Kind       VerdictKind `json:"kind"`
	Message    string      `json:"message,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	At         time.Time   `json:"at"`
}

// NewVerdictEvent builds a verdict event stamped now
func NewVerdictEvent(userID, exerciseID string, v Verdict) *VerdictEvent {
	return &VerdictEvent{
		ID:         uuid.New(),
		UserID:     userID,
		ExerciseID: exerciseID,
		Kind:       v.Kind,
		Message:    v.Summary(),
		DurationMS: v.Duration.Milliseconds(),
		At:         time.Now().UTC(),
	}
}

// InteractionEvent is emitted after a committed interaction transition
type InteractionEvent struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	ExerciseID string    `json:"exercise_id"`
	Intent     Intent    `json:"intent"`
	Affinity   Affinity  `json:"affinity"`
	Starred    bool      `json:"starred"`
	Solved     bool      `json:"solved"`
	Likes      uint64    `json:"likes"`
	Dislikes   uint64    `json:"dislikes"`
	At         time.Time `json:"at"`
}

// NewInteractionEvent builds an interaction event stamped now
func NewInteractionEvent(userID, exerciseID string, intent Intent, f Facts, c Counters) *InteractionEvent {
	return &InteractionEvent{
		ID:         uuid.New(),
		UserID:     userID,
		ExerciseID: exerciseID,
		Intent:     intent,
		Affinity:   f.Affinity,
		Starred:    f.Starred,
		Solved:     f.Solved,
		Likes:      c.Likes,
		Dislikes:   c.Dislikes,
		At:         time.Now().UTC(),
	}
}

// EventPublisher delivers events to interested parties. Publishing is best
// effort; callers log failures and carry on.
type EventPublisher interface {
	PublishVerdict(ctx context.Context, e *VerdictEvent) error
	PublishInteraction(ctx context.Context, e *InteractionEvent) error
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) PublishVerdict(context.Context, *VerdictEvent) error         { return nil }
func (NopPublisher) PublishInteraction(context.Context, *InteractionEvent) error { return nil }
