package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/storage/storagetest"
)

func TestDraftStore(t *testing.T) {
	storagetest.RunDraftStoreTests(t, func(t *testing.T) domain.DraftStore {
		s, err := OpenInMemory()
		if err != nil {
			t.Fatalf("OpenInMemory() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestDraftStore_KeysDoNotCollide(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.PutDraft(ctx, "a:b", "c", "first"); err != nil {
		t.Fatalf("PutDraft() error = %v", err)
	}
	if _, err := s.GetDraft(ctx, "a", "b:c"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetDraft() error = %v, want ErrNotFound", err)
	}
}

func TestDraftStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drafts")
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.PutDraft(ctx, "u1", "two-sum", "function twoSum() {}"); err != nil {
		t.Fatalf("PutDraft() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.GetDraft(ctx, "u1", "two-sum")
	if err != nil {
		t.Fatalf("GetDraft() error = %v", err)
	}
	if got != "function twoSum() {}" {
		t.Errorf("GetDraft() = %q, want persisted draft", got)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") expected error")
	}
}

func TestDraftStore_CancelledContext(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.PutDraft(ctx, "u1", "two-sum", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("PutDraft() error = %v, want Canceled", err)
	}
}
