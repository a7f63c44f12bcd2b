// Package draft holds in-progress code per user and exercise.
//
// Anonymous callers always see the starter code and their puts are dropped.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// MaxDraftBytes bounds the size of a stored draft
const MaxDraftBytes = 64 << 10

// ExerciseCatalog resolves exercises and their starter code
type ExerciseCatalog interface {
	GetExercise(id string) (*domain.Exercise, error)
}

// Cache reads and writes drafts with a starter-code fallback
type Cache struct {
	store   domain.DraftStore
	catalog ExerciseCatalog
}

// NewCache creates a draft cache
func NewCache(store domain.DraftStore, catalog ExerciseCatalog) *Cache {
	return &Cache{store: store, catalog: catalog}
}

// Get returns the saved draft, or the starter code when there is none
func (c *Cache) Get(ctx context.Context, userID, exerciseID string) (string, error) {
	ex, err := c.catalog.GetExercise(exerciseID)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return ex.StarterCode, nil
	}

	code, err := c.store.GetDraft(ctx, userID, exerciseID)
	if errors.Is(err, domain.ErrNotFound) {
		return ex.StarterCode, nil
	}
	if err != nil {
		return "", fmt.Errorf("load draft: %w", err)
	}
	return code, nil
}

// Put overwrites the draft for an authenticated user
func (c *Cache) Put(ctx context.Context, userID, exerciseID, code string) error {
	if _, err := c.catalog.GetExercise(exerciseID); err != nil {
		return err
	}
	if len(code) > MaxDraftBytes {
		return fmt.Errorf("%w: draft exceeds %d bytes", domain.ErrValidation, MaxDraftBytes)
	}
	if userID == "" {
		return nil
	}

	if err := c.store.PutDraft(ctx, userID, exerciseID, code); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	slog.Debug("draft saved", "user_id", userID, "exercise_id", exerciseID, "bytes", len(code))
	return nil
}
