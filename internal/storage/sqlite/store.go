package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// Store implements domain.DocumentStore and domain.DraftStore on SQLite.
//
// Transactions are optimistic: reads inside RunTransaction go straight to
// the database and remember the version they saw, writes are buffered, and
// commit applies them in one SQL transaction with version-guarded updates.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// GetUser retrieves a user document by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.UserDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, liked, disliked, starred, solved, version
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetExercise retrieves an exercise document by ID.
func (s *Store) GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, likes, dislikes, version
		FROM exercises WHERE id = ?`, id)
	return scanExercise(row)
}

// SeedExercise inserts a zero-counter exercise if absent.
func (s *Store) SeedExercise(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exercises (id, likes, dislikes, version)
		VALUES (?, 0, 0, 1)
		ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("seed exercise: %w", translate(err))
	}
	return nil
}

// RunTransaction runs fn and commits its writes atomically.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &sqliteTx{
		store:         s,
		userReads:     make(map[string]int64),
		exerciseReads: make(map[string]int64),
		users:         make(map[string]*domain.UserDocument),
		exercises:     make(map[string]*domain.ExerciseDocument),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// GetDraft retrieves the saved code for a user and exercise.
func (s *Store) GetDraft(ctx context.Context, userID, exerciseID string) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		"SELECT code FROM drafts WHERE user_id = ? AND exercise_id = ?",
		userID, exerciseID,
	).Scan(&code)
	if err != nil {
		return "", translate(err)
	}
	return code, nil
}

// PutDraft saves code for a user and exercise, replacing any previous draft.
func (s *Store) PutDraft(ctx context.Context, userID, exerciseID, code string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (user_id, exercise_id, code, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(user_id, exercise_id) DO UPDATE SET
			code=excluded.code, updated_at=excluded.updated_at`,
		userID, exerciseID, code,
	)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", translate(err))
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	store *Store

	userReads     map[string]int64
	exerciseReads map[string]int64

	users     map[string]*domain.UserDocument
	exercises map[string]*domain.ExerciseDocument
}

func (t *sqliteTx) GetUser(ctx context.Context, id string) (*domain.UserDocument, error) {
	if doc, ok := t.users[id]; ok {
		return doc.Clone(), nil
	}
	doc, err := t.store.GetUser(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, seen := t.userReads[id]; !seen {
		var version int64
		if doc != nil {
			version = doc.Version
		}
		t.userReads[id] = version
	}
	return doc, err
}

func (t *sqliteTx) GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error) {
	if doc, ok := t.exercises[id]; ok {
		return doc.Clone(), nil
	}
	doc, err := t.store.GetExercise(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, seen := t.exerciseReads[id]; !seen {
		var version int64
		if doc != nil {
			version = doc.Version
		}
		t.exerciseReads[id] = version
	}
	return doc, err
}

func (t *sqliteTx) PutUser(ctx context.Context, doc *domain.UserDocument) error {
	if _, seen := t.userReads[doc.ID]; !seen {
		t.userReads[doc.ID] = doc.Version
	}
	t.users[doc.ID] = doc.Clone()
	return nil
}

func (t *sqliteTx) PutExercise(ctx context.Context, doc *domain.ExerciseDocument) error {
	if _, seen := t.exerciseReads[doc.ID]; !seen {
		t.exerciseReads[doc.ID] = doc.Version
	}
	t.exercises[doc.ID] = doc.Clone()
	return nil
}

func (t *sqliteTx) commit(ctx context.Context) (err error) {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", translate(err))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Documents that were only read must still be unchanged
	for id, version := range t.userReads {
		if _, written := t.users[id]; written {
			continue
		}
		if err := checkVersion(ctx, tx, "users", id, version); err != nil {
			return err
		}
	}
	for id, version := range t.exerciseReads {
		if _, written := t.exercises[id]; written {
			continue
		}
		if err := checkVersion(ctx, tx, "exercises", id, version); err != nil {
			return err
		}
	}

	for id, doc := range t.users {
		if err := writeUser(ctx, tx, doc, t.userReads[id]); err != nil {
			return err
		}
	}
	for id, doc := range t.exercises {
		if err := writeExercise(ctx, tx, doc, t.exerciseReads[id]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

func checkVersion(ctx context.Context, tx *sql.Tx, table, id string, want int64) error {
	var current int64
	err := tx.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check %s version: %w", table, translate(err))
	}
	if current != want {
		return domain.ErrConflict
	}
	return nil
}

func writeUser(ctx context.Context, tx *sql.Tx, doc *domain.UserDocument, readVersion int64) error {
	liked, disliked, starred, solved, err := marshalSets(doc)
	if err != nil {
		return err
	}

	var result sql.Result
	if readVersion == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, liked, disliked, starred, solved, version, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, datetime('now'))
			ON CONFLICT(id) DO NOTHING`,
			doc.ID, liked, disliked, starred, solved,
		)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE users SET liked = ?, disliked = ?, starred = ?, solved = ?,
				version = version + 1, updated_at = datetime('now')
			WHERE id = ? AND version = ?`,
			liked, disliked, starred, solved, doc.ID, readVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("write user: %w", translate(err))
	}
	return requireOneRow(result)
}

func writeExercise(ctx context.Context, tx *sql.Tx, doc *domain.ExerciseDocument, readVersion int64) error {
	var (
		result sql.Result
		err    error
	)
	if readVersion == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO exercises (id, likes, dislikes, version, updated_at)
			VALUES (?, ?, ?, 1, datetime('now'))
			ON CONFLICT(id) DO NOTHING`,
			doc.ID, int64(doc.Likes), int64(doc.Dislikes),
		)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE exercises SET likes = ?, dislikes = ?,
				version = version + 1, updated_at = datetime('now')
			WHERE id = ? AND version = ?`,
			int64(doc.Likes), int64(doc.Dislikes), doc.ID, readVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("write exercise: %w", translate(err))
	}
	return requireOneRow(result)
}

// requireOneRow turns a guarded write that matched nothing into a conflict
func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return domain.ErrConflict
	}
	return nil
}

func marshalSets(doc *domain.UserDocument) (liked, disliked, starred, solved string, err error) {
	sets := [][]string{doc.Liked, doc.Disliked, doc.Starred, doc.Solved}
	out := make([]string, len(sets))
	for i, set := range sets {
		if set == nil {
			set = []string{}
		}
		data, err := json.Marshal(set)
		if err != nil {
			return "", "", "", "", fmt.Errorf("marshal set: %w", err)
		}
		out[i] = string(data)
	}
	return out[0], out[1], out[2], out[3], nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.UserDocument, error) {
	var (
		doc                              domain.UserDocument
		liked, disliked, starred, solved string
	)
	if err := row.Scan(&doc.ID, &liked, &disliked, &starred, &solved, &doc.Version); err != nil {
		return nil, translate(err)
	}

	targets := []*[]string{&doc.Liked, &doc.Disliked, &doc.Starred, &doc.Solved}
	for i, raw := range []string{liked, disliked, starred, solved} {
		if err := json.Unmarshal([]byte(raw), targets[i]); err != nil {
			return nil, fmt.Errorf("unmarshal user %s sets: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func scanExercise(row scanner) (*domain.ExerciseDocument, error) {
	var (
		doc             domain.ExerciseDocument
		likes, dislikes int64
	)
	if err := row.Scan(&doc.ID, &likes, &dislikes, &doc.Version); err != nil {
		return nil, translate(err)
	}
	doc.Likes = uint64(likes)
	doc.Dislikes = uint64(dislikes)
	return &doc, nil
}
