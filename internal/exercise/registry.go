package exercise

import (
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// catalog is an immutable snapshot of loaded exercises
type catalog struct {
	byID    map[string]*Entry
	ordered []*Entry // index i holds order i+1
}

// Registry provides access to exercises and their fixtures. Reload swaps
// in a complete new snapshot, so readers never observe a partial table.
type Registry struct {
	loader *Loader
	mu     sync.RWMutex
	cat    *catalog
}

// NewRegistry creates a new exercise registry
func NewRegistry(loader *Loader) *Registry {
	return &Registry{
		loader: loader,
		cat:    &catalog{byID: map[string]*Entry{}},
	}
}

// Load loads all exercises into memory
func (r *Registry) Load() error {
	entries, err := r.loader.LoadAll()
	if err != nil {
		return fmt.Errorf("load exercises: %w", err)
	}

	cat := &catalog{
		byID:    make(map[string]*Entry, len(entries)),
		ordered: make([]*Entry, len(entries)),
	}
	for _, e := range entries {
		cat.byID[e.Exercise.ID] = e
		cat.ordered[e.Exercise.Order-1] = e
	}

	r.mu.Lock()
	r.cat = cat
	r.mu.Unlock()
	return nil
}

// Reload reloads all exercises. On failure the previous snapshot is kept.
func (r *Registry) Reload() error {
	return r.Load()
}

func (r *Registry) snapshot() *catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cat
}

// Lookup returns the fixture for an exercise
func (r *Registry) Lookup(exerciseID string) (*domain.FixtureSpec, error) {
	e, ok := r.snapshot().byID[exerciseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFixtureNotFound, exerciseID)
	}
	return e.Fixture, nil
}

// GetExercise returns an exercise by ID
func (r *Registry) GetExercise(id string) (*domain.Exercise, error) {
	e, ok := r.snapshot().byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, id)
	}
	return e.Exercise, nil
}

// ListExercises returns all exercises in order
func (r *Registry) ListExercises() []*domain.Exercise {
	cat := r.snapshot()
	exercises := make([]*domain.Exercise, 0, len(cat.ordered))
	for _, e := range cat.ordered {
		exercises = append(exercises, e.Exercise)
	}
	return exercises
}

// GetNextExercise returns the exercise after id, wrapping from N to 1
func (r *Registry) GetNextExercise(id string) (*domain.Exercise, error) {
	return r.step(id, 1)
}

// GetPrevExercise returns the exercise before id, wrapping from 1 to N
func (r *Registry) GetPrevExercise(id string) (*domain.Exercise, error) {
	return r.step(id, -1)
}

func (r *Registry) step(id string, delta int) (*domain.Exercise, error) {
	cat := r.snapshot()
	e, ok := cat.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, id)
	}
	n := len(cat.ordered)
	idx := ((e.Exercise.Order-1+delta)%n + n) % n
	return cat.ordered[idx].Exercise, nil
}

// Stats returns statistics about loaded exercises
func (r *Registry) Stats() RegistryStats {
	cat := r.snapshot()

	stats := RegistryStats{
		Source:        r.loader.Source(),
		ExerciseCount: len(cat.ordered),
		ByDifficulty:  make(map[string]int),
	}
	categories := make(map[string]struct{})
	for _, e := range cat.ordered {
		stats.ByDifficulty[string(e.Exercise.Difficulty)]++
		categories[e.Exercise.Category] = struct{}{}
	}
	for c := range categories {
		stats.Categories = append(stats.Categories, c)
	}
	sort.Strings(stats.Categories)

	return stats
}

// RegistryStats holds statistics about the registry
type RegistryStats struct {
	Source        string         `json:"source"`
	ExerciseCount int            `json:"exercise_count"`
	ByDifficulty  map[string]int `json:"by_difficulty"`
	Categories    []string       `json:"categories"`
}
