// Package memory provides in-process implementations of the document and
// draft stores. Nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/kata/internal/domain"
)

type draftKey struct {
	userID     string
	exerciseID string
}

// Store provides thread-safe versioned document storage
type Store struct {
	mu        sync.RWMutex
	users     map[string]*domain.UserDocument
	exercises map[string]*domain.ExerciseDocument
	drafts    map[draftKey]string

	// beforeCommit runs after fn and before validation; tests use it to
	// interleave a competing writer
	beforeCommit func()
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:     make(map[string]*domain.UserDocument),
		exercises: make(map[string]*domain.ExerciseDocument),
		drafts:    make(map[draftKey]string),
	}
}

// GetUser returns a copy of the stored user document
func (s *Store) GetUser(ctx context.Context, id string) (*domain.UserDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Clone(), nil
}

// GetExercise returns a copy of the stored exercise document
func (s *Store) GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.exercises[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Clone(), nil
}

// SeedExercise inserts a zero-counter exercise document if absent
func (s *Store) SeedExercise(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exercises[id]; !ok {
		s.exercises[id] = &domain.ExerciseDocument{ID: id, Version: 1}
	}
	return nil
}

// RunTransaction runs fn against a snapshot and commits its buffered
// writes only if no document it touched changed in the meantime.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &memTx{
		store:        s,
		userReads:    make(map[string]int64),
		exerciseRead: make(map[string]int64),
		users:        make(map[string]*domain.UserDocument),
		exercises:    make(map[string]*domain.ExerciseDocument),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}
	return tx.commit()
}

// GetDraft returns the stored draft
func (s *Store) GetDraft(ctx context.Context, userID, exerciseID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.drafts[draftKey{userID, exerciseID}]
	if !ok {
		return "", domain.ErrNotFound
	}
	return code, nil
}

// PutDraft overwrites the stored draft
func (s *Store) PutDraft(ctx context.Context, userID, exerciseID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts[draftKey{userID, exerciseID}] = code
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

type memTx struct {
	store *Store

	// versions observed on first read; 0 means absent
	userReads    map[string]int64
	exerciseRead map[string]int64

	// buffered writes
	users     map[string]*domain.UserDocument
	exercises map[string]*domain.ExerciseDocument
}

func (t *memTx) GetUser(ctx context.Context, id string) (*domain.UserDocument, error) {
	if doc, ok := t.users[id]; ok {
		return doc.Clone(), nil
	}

	t.store.mu.RLock()
	doc, ok := t.store.users[id]
	if ok {
		doc = doc.Clone()
	}
	t.store.mu.RUnlock()

	if _, seen := t.userReads[id]; !seen {
		if ok {
			t.userReads[id] = doc.Version
		} else {
			t.userReads[id] = 0
		}
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (t *memTx) GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error) {
	if doc, ok := t.exercises[id]; ok {
		return doc.Clone(), nil
	}

	t.store.mu.RLock()
	doc, ok := t.store.exercises[id]
	if ok {
		doc = doc.Clone()
	}
	t.store.mu.RUnlock()

	if _, seen := t.exerciseRead[id]; !seen {
		if ok {
			t.exerciseRead[id] = doc.Version
		} else {
			t.exerciseRead[id] = 0
		}
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (t *memTx) PutUser(ctx context.Context, doc *domain.UserDocument) error {
	if _, seen := t.userReads[doc.ID]; !seen {
		t.userReads[doc.ID] = doc.Version
	}
	t.users[doc.ID] = doc.Clone()
	return nil
}

func (t *memTx) PutExercise(ctx context.Context, doc *domain.ExerciseDocument) error {
	if _, seen := t.exerciseRead[doc.ID]; !seen {
		t.exerciseRead[doc.ID] = doc.Version
	}
	t.exercises[doc.ID] = doc.Clone()
	return nil
}

// commit validates every read version and applies the writes atomically
func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range t.userReads {
		if currentVersion(s.users[id]) != version {
			return domain.ErrConflict
		}
	}
	for id, version := range t.exerciseRead {
		if currentExerciseVersion(s.exercises[id]) != version {
			return domain.ErrConflict
		}
	}

	for id, doc := range t.users {
		doc.Version = t.userReads[id] + 1
		s.users[id] = doc
	}
	for id, doc := range t.exercises {
		doc.Version = t.exerciseRead[id] + 1
		s.exercises[id] = doc
	}
	return nil
}

func currentVersion(doc *domain.UserDocument) int64 {
	if doc == nil {
		return 0
	}
	return doc.Version
}

func currentExerciseVersion(doc *domain.ExerciseDocument) int64 {
	if doc == nil {
		return 0
	}
	return doc.Version
}
