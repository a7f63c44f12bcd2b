// Package storagetest holds behaviour tests shared by every document and
// draft store implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/interaction"
)

// RunDocumentStoreTests exercises a DocumentStore. newStore must return an
// empty store; it is called once per subtest.
func RunDocumentStoreTests(t *testing.T, newStore func(t *testing.T) domain.DocumentStore) {
	t.Run("SeedExercise", func(t *testing.T) { testSeedExercise(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("CommitBothDocuments", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ConflictOnConcurrentUpdate", func(t *testing.T) { testConflictUpdate(t, newStore(t)) })
	t.Run("ConflictOnConcurrentInsert", func(t *testing.T) { testConflictInsert(t, newStore(t)) })
	t.Run("ConflictLeavesNothingPartial", func(t *testing.T) { testConflictAtomic(t, newStore(t)) })
	t.Run("ConcurrentReconciliation", func(t *testing.T) { testConcurrentReconciliation(t, newStore(t)) })
}

// RunDraftStoreTests exercises a DraftStore
func RunDraftStoreTests(t *testing.T, newStore func(t *testing.T) domain.DraftStore) {
	t.Run("Missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetDraft(context.Background(), "u1", "two-sum"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetDraft() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.PutDraft(ctx, "u1", "two-sum", "function twoSum() {}"); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}
		if err := s.PutDraft(ctx, "u1", "two-sum", "function twoSum() { return [0, 1]; }"); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}
		got, err := s.GetDraft(ctx, "u1", "two-sum")
		if err != nil {
			t.Fatalf("GetDraft() error = %v", err)
		}
		if got != "function twoSum() { return [0, 1]; }" {
			t.Errorf("GetDraft() = %q, want last written code", got)
		}
	})

	t.Run("KeyedByUserAndExercise", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		puts := map[[2]string]string{
			{"u1", "two-sum"}:   "a",
			{"u2", "two-sum"}:   "b",
			{"u1", "jump-game"}: "c",
		}
		for k, code := range puts {
			if err := s.PutDraft(ctx, k[0], k[1], code); err != nil {
				t.Fatalf("PutDraft(%v) error = %v", k, err)
			}
		}
		for k, want := range puts {
			got, err := s.GetDraft(ctx, k[0], k[1])
			if err != nil {
				t.Fatalf("GetDraft(%v) error = %v", k, err)
			}
			if got != want {
				t.Errorf("GetDraft(%v) = %q, want %q", k, got, want)
			}
		}
	})

	t.Run("EmptyCodeIsStored", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.PutDraft(ctx, "u1", "two-sum", ""); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}
		got, err := s.GetDraft(ctx, "u1", "two-sum")
		if err != nil {
			t.Fatalf("GetDraft() error = %v", err)
		}
		if got != "" {
			t.Errorf("GetDraft() = %q, want empty", got)
		}
	})
}

func testSeedExercise(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.SeedExercise(ctx, "two-sum"); err != nil {
			t.Fatalf("SeedExercise() error = %v", err)
		}
	}

	doc, err := s.GetExercise(ctx, "two-sum")
	if err != nil {
		t.Fatalf("GetExercise() error = %v", err)
	}
	if doc.Likes != 0 || doc.Dislikes != 0 {
		t.Errorf("counters = %+v, want zero", doc.Counters())
	}

	// Seeding must not reset counters written later
	writeCounters(t, s, "two-sum", 3, 1)
	if err := s.SeedExercise(ctx, "two-sum"); err != nil {
		t.Fatalf("SeedExercise() error = %v", err)
	}
	doc, _ = s.GetExercise(ctx, "two-sum")
	if doc.Likes != 3 || doc.Dislikes != 1 {
		t.Errorf("counters after reseed = %+v, want {3 1}", doc.Counters())
	}
}

func testGetMissing(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()

	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetExercise(ctx, "nothing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetExercise() error = %v, want ErrNotFound", err)
	}

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.GetUser(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("tx.GetUser() error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Errorf("RunTransaction() error = %v", err)
	}
}

func testCommit(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	if err := s.SeedExercise(ctx, "two-sum"); err != nil {
		t.Fatalf("SeedExercise() error = %v", err)
	}

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		user := domain.NewUserDocument("u1")
		user.SetFacts("two-sum", domain.Facts{Affinity: domain.AffinityLiked, Starred: true})
		if err := tx.PutUser(ctx, user); err != nil {
			return err
		}
		ex, err := tx.GetExercise(ctx, "two-sum")
		if err != nil {
			return err
		}
		ex.Likes++
		return tx.PutExercise(ctx, ex)
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	user, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	facts := user.Facts("two-sum")
	if facts.Affinity != domain.AffinityLiked || !facts.Starred || facts.Solved {
		t.Errorf("Facts() = %+v, want liked and starred", facts)
	}
	if user.Version <= 0 {
		t.Errorf("user Version = %d, want > 0", user.Version)
	}

	ex, err := s.GetExercise(ctx, "two-sum")
	if err != nil {
		t.Fatalf("GetExercise() error = %v", err)
	}
	if ex.Likes != 1 {
		t.Errorf("Likes = %d, want 1", ex.Likes)
	}

	// A second commit advances the version
	before := user.Version
	err = s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.SetFacts("two-sum", domain.Facts{Solved: true})
		return tx.PutUser(ctx, u)
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
	user, _ = s.GetUser(ctx, "u1")
	if user.Version <= before {
		t.Errorf("Version = %d, want > %d", user.Version, before)
	}
	if got := user.Facts("two-sum"); got != (domain.Facts{Solved: true}) {
		t.Errorf("Facts() = %+v, want solved only", got)
	}
}

func testReadYourWrites(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		user := domain.NewUserDocument("u1")
		user.SetFacts("jump-game", domain.Facts{Starred: true})
		if err := tx.PutUser(ctx, user); err != nil {
			return err
		}
		again, err := tx.GetUser(ctx, "u1")
		if err != nil {
			return fmt.Errorf("read back: %w", err)
		}
		if !again.Facts("jump-game").Starred {
			t.Error("buffered write not visible inside the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
}

func testRollback(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutUser(ctx, domain.NewUserDocument("u1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTransaction() error = %v, want boom", err)
	}
	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound after rollback", err)
	}
}

func testConflictUpdate(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	if err := s.SeedExercise(ctx, "two-sum"); err != nil {
		t.Fatalf("SeedExercise() error = %v", err)
	}

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		ex, err := tx.GetExercise(ctx, "two-sum")
		if err != nil {
			return err
		}

		// A competing writer commits in between
		writeCounters(t, s, "two-sum", 10, 0)

		ex.Likes++
		return tx.PutExercise(ctx, ex)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RunTransaction() error = %v, want ErrConflict", err)
	}

	ex, _ := s.GetExercise(ctx, "two-sum")
	if ex.Likes != 10 {
		t.Errorf("Likes = %d, want 10 (competing write kept)", ex.Likes)
	}
}

func testConflictInsert(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.GetUser(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("expected absent user, got %v", err)
		}

		// Someone else creates the user first
		inner := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
			u := domain.NewUserDocument("u1")
			u.SetFacts("two-sum", domain.Facts{Starred: true})
			return tx.PutUser(ctx, u)
		})
		if inner != nil {
			return fmt.Errorf("inner transaction: %w", inner)
		}

		u := domain.NewUserDocument("u1")
		u.SetFacts("two-sum", domain.Facts{Solved: true})
		return tx.PutUser(ctx, u)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RunTransaction() error = %v, want ErrConflict", err)
	}

	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got := u.Facts("two-sum"); !got.Starred || got.Solved {
		t.Errorf("Facts() = %+v, want the first writer's state", got)
	}
}

func testConflictAtomic(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	if err := s.SeedExercise(ctx, "two-sum"); err != nil {
		t.Fatalf("SeedExercise() error = %v", err)
	}

	err := s.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		ex, err := tx.GetExercise(ctx, "two-sum")
		if err != nil {
			return err
		}
		writeCounters(t, s, "two-sum", 5, 5)

		// The user write is valid on its own but must not land
		user := domain.NewUserDocument("u1")
		user.SetFacts("two-sum", domain.Facts{Affinity: domain.AffinityLiked})
		if err := tx.PutUser(ctx, user); err != nil {
			return err
		}
		ex.Likes++
		return tx.PutExercise(ctx, ex)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RunTransaction() error = %v, want ErrConflict", err)
	}
	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound (no partial commit)", err)
	}
}

// testConcurrentReconciliation drives random intents from many users and
// checks that every exercise counter equals the number of users holding
// that affinity, and that no user both likes and dislikes an exercise.
func testConcurrentReconciliation(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	exercises := []string{"two-sum", "jump-game"}
	for _, id := range exercises {
		if err := s.SeedExercise(ctx, id); err != nil {
			t.Fatalf("SeedExercise() error = %v", err)
		}
	}

	rec := interaction.NewReconciler(s, catalog(exercises), interaction.Config{MaxAttempts: 20})

	const users = 8
	const steps = 25
	intents := domain.Intents()

	var wg sync.WaitGroup
	errs := make(chan error, users*steps)
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(u)))
			userID := fmt.Sprintf("user-%d", u)
			for i := 0; i < steps; i++ {
				intent := intents[rng.Intn(len(intents))]
				exID := exercises[rng.Intn(len(exercises))]
				_, err := rec.Toggle(ctx, intent, userID, exID)
				if err != nil && !errors.Is(err, domain.ErrTransient) && !errors.Is(err, domain.ErrBusy) {
					errs <- err
				}
			}
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Toggle() error = %v", err)
	}

	for _, exID := range exercises {
		var likes, dislikes uint64
		for u := 0; u < users; u++ {
			doc, err := s.GetUser(ctx, fmt.Sprintf("user-%d", u))
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				t.Fatalf("GetUser() error = %v", err)
			}
			liked := slices.Contains(doc.Liked, exID)
			disliked := slices.Contains(doc.Disliked, exID)
			if liked && disliked {
				t.Errorf("%s both likes and dislikes %s", doc.ID, exID)
			}
			if liked {
				likes++
			}
			if disliked {
				dislikes++
			}
		}

		ex, err := s.GetExercise(ctx, exID)
		if err != nil {
			t.Fatalf("GetExercise() error = %v", err)
		}
		if ex.Likes != likes || ex.Dislikes != dislikes {
			t.Errorf("%s counters = {%d %d}, want {%d %d}", exID, ex.Likes, ex.Dislikes, likes, dislikes)
		}
	}
}

func writeCounters(t *testing.T, s domain.DocumentStore, id string, likes, dislikes uint64) {
	t.Helper()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		ex, err := tx.GetExercise(ctx, id)
		if err != nil {
			return err
		}
		ex.Likes = likes
		ex.Dislikes = dislikes
		return tx.PutExercise(ctx, ex)
	})
	if err != nil {
		t.Fatalf("write counters: %v", err)
	}
}

type catalog []string

func (c catalog) GetExercise(id string) (*domain.Exercise, error) {
	if slices.Contains(c, id) {
		return &domain.Exercise{ID: id}, nil
	}
	return nil, domain.ErrExerciseNotFound
}
