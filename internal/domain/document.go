package domain

import (
	"context"
	"slices"
)

// UserDocument is the stored per-user document. Facts are represented as
// membership of exercise ids in the four sets.
type UserDocument struct {
	ID       string
	Liked    []string
	Disliked []string
	Starred  []string
	Solved   []string
	Version  int64 // 0 means not yet stored
}

// NewUserDocument creates an empty, unstored user document
func NewUserDocument(id string) *UserDocument {
	return &UserDocument{ID: id}
}

// Facts derives the facts for one exercise
func (d *UserDocument) Facts(exerciseID string) Facts {
	f := Facts{
		Starred: slices.Contains(d.Starred, exerciseID),
		Solved:  slices.Contains(d.Solved, exerciseID),
	}
	switch {
	case slices.Contains(d.Liked, exerciseID):
		f.Affinity = AffinityLiked
	case slices.Contains(d.Disliked, exerciseID):
		f.Affinity = AffinityDisliked
	}
	return f
}

// SetFacts rewrites set membership for one exercise. The id ends up in at
// most one of the liked/disliked sets.
func (d *UserDocument) SetFacts(exerciseID string, f Facts) {
	d.Liked = setMembership(d.Liked, exerciseID, f.Affinity == AffinityLiked)
	d.Disliked = setMembership(d.Disliked, exerciseID, f.Affinity == AffinityDisliked)
	d.Starred = setMembership(d.Starred, exerciseID, f.Starred)
	d.Solved = setMembership(d.Solved, exerciseID, f.Solved)
}

// Clone returns a deep copy
func (d *UserDocument) Clone() *UserDocument {
	return &UserDocument{
		ID:       d.ID,
		Liked:    slices.Clone(d.Liked),
		Disliked: slices.Clone(d.Disliked),
		Starred:  slices.Clone(d.Starred),
		Solved:   slices.Clone(d.Solved),
		Version:  d.Version,
	}
}

func setMembership(set []string, id string, member bool) []string {
	idx := slices.Index(set, id)
	switch {
	case member && idx < 0:
		return append(set, id)
	case !member && idx >= 0:
		return slices.Delete(set, idx, idx+1)
	}
	return set
}

// ExerciseDocument is the stored per-exercise aggregate
type ExerciseDocument struct {
	ID       string
	Likes    uint64
	Dislikes uint64
	Version  int64
}

// Counters returns the aggregate counters
func (d *ExerciseDocument) Counters() Counters {
	return Counters{Likes: d.Likes, Dislikes: d.Dislikes}
}

// Clone returns a copy
func (d *ExerciseDocument) Clone() *ExerciseDocument {
	c := *d
	return &c
}

// -----------------------------------------------------------------------------
// Persistence Gateway
// -----------------------------------------------------------------------------

// DocumentStore is a transactional store over user and exercise documents
// with optimistic concurrency. A commit fails with ErrConflict when any
// document read or written in the transaction changed since it was read.
type DocumentStore interface {
	// RunTransaction runs fn once and commits its writes atomically.
	// It does not retry; conflicts are returned to the caller.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetUser(ctx context.Context, id string) (*UserDocument, error)
	GetExercise(ctx context.Context, id string) (*ExerciseDocument, error)

	// SeedExercise creates a zeroed exercise document if none exists
	SeedExercise(ctx context.Context, id string) error

	Close() error
}

// Tx is the view of the store inside a transaction. Reads observe the
// transaction's own buffered writes.
type Tx interface {
	GetUser(ctx context.Context, id string) (*UserDocument, error)
	GetExercise(ctx context.Context, id string) (*ExerciseDocument, error)
	PutUser(ctx context.Context, doc *UserDocument) error
	PutExercise(ctx context.Context, doc *ExerciseDocument) error
}

// DraftStore persists in-progress code keyed by (user, exercise)
type DraftStore interface {
	// GetDraft returns ErrNotFound when no draft exists
	GetDraft(ctx context.Context, userID, exerciseID string) (string, error)
	PutDraft(ctx context.Context, userID, exerciseID, code string) error
	Close() error
}
