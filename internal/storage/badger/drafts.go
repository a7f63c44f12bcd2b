// Package badger keeps drafts in an embedded BadgerDB directory.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/kata/internal/domain"
)

var draftPrefix = []byte("draft/")

// DraftStore implements domain.DraftStore on BadgerDB
type DraftStore struct {
	db *badger.DB
}

// Open opens (or creates) a persistent draft store at path
func Open(path string) (*DraftStore, error) {
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create badger directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens a draft store that lives only as long as the process
func OpenInMemory() (*DraftStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*DraftStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DraftStore{db: db}, nil
}

func draftKey(userID, exerciseID string) []byte {
	key := make([]byte, 0, len(draftPrefix)+len(userID)+1+len(exerciseID))
	key = append(key, draftPrefix...)
	key = append(key, userID...)
	key = append(key, 0)
	return append(key, exerciseID...)
}

// GetDraft returns the stored code or domain.ErrNotFound
func (s *DraftStore) GetDraft(ctx context.Context, userID, exerciseID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var code []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(draftKey(userID, exerciseID))
		if err != nil {
			return err
		}
		code, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get draft: %w", err)
	}
	return string(code), nil
}

// PutDraft overwrites the draft
func (s *DraftStore) PutDraft(ctx context.Context, userID, exerciseID, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(draftKey(userID, exerciseID), []byte(code))
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	if err != nil {
		return fmt.Errorf("put draft: %w", err)
	}
	return nil
}

// Close closes the database
func (s *DraftStore) Close() error {
	return s.db.Close()
}
