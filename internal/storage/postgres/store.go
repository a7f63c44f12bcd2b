// Package postgres implements the document and draft stores on PostgreSQL
// for deployments where several daemons share state.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/kata/internal/domain"
)

//go:embed schema.sql
var schema string

// Store implements domain.DocumentStore and domain.DraftStore using PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies connectivity
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewStore creates a new PostgreSQL store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// GetUser retrieves a user document by ID
func (s *Store) GetUser(ctx context.Context, id string) (*domain.UserDocument, error) {
	return getUser(ctx, s.pool, id)
}

// GetExercise retrieves an exercise document by ID
func (s *Store) GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error) {
	return getExercise(ctx, s.pool, id)
}

// SeedExercise inserts a zero-counter exercise if absent
func (s *Store) SeedExercise(ctx context.Context, id string) error {
	query := `
		INSERT INTO kata_exercises (id, likes, dislikes, version)
		VALUES ($1, 0, 0, 1)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("seed exercise: %w", translate(err))
	}
	return nil
}

// RunTransaction runs fn with buffered writes and commits them in one
// database transaction guarded by the versions fn observed
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &pgTx{
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

// GetDraft retrieves a draft
func (s *Store) GetDraft(ctx context.Context, userID, exerciseID string) (string, error) {
	query := `SELECT code FROM kata_drafts WHERE user_id = $1 AND exercise_id = $2`

	var code string
	if err := s.pool.QueryRow(ctx, query, userID, exerciseID).Scan(&code); err != nil {
		return "", translate(err)
	}
	return code, nil
}

// PutDraft upserts a draft
func (s *Store) PutDraft(ctx context.Context, userID, exerciseID, code string) error {
	query := `
		INSERT INTO kata_drafts (user_id, exercise_id, code, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, exercise_id) DO UPDATE SET code = EXCLUDED.code, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, userID, exerciseID, code); err != nil {
		return fmt.Errorf("upsert draft: %w", translate(err))
	}
	return nil
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func getUser(ctx context.Context, q querier, id string) (*domain.UserDocument, error) {
	query := `
		SELECT id, liked, disliked, starred, solved, version
		FROM kata_users WHERE id = $1
	`
	var doc domain.UserDocument
	err := q.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.Liked, &doc.Disliked, &doc.Starred, &doc.Solved, &doc.Version)
	if err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

func getExercise(ctx context.Context, q querier, id string) (*domain.ExerciseDocument, error) {
	query := `SELECT id, likes, dislikes, version FROM kata_exercises WHERE id = $1`

	var (
		doc             domain.ExerciseDocument
		likes, dislikes int64
	)
	if err := q.QueryRow(ctx, query, id).Scan(&doc.ID, &likes, &dislikes, &doc.Version); err != nil {
		return nil, translate(err)
	}
	doc.Likes = uint64(likes)
	doc.Dislikes = uint64(dislikes)
	return &doc, nil
}

type pgTx struct {
	store *Store

	userReads     map[string]int64
	exerciseReads map[string]int64

	users     map[string]*domain.UserDocument
	exercises map[string]*domain.ExerciseDocument
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*domain.UserDocument, error) {
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

func (t *pgTx) GetExercise(ctx context.Context, id string) (*domain.ExerciseDocument, error) {
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

func (t *pgTx) PutUser(ctx context.Context, doc *domain.UserDocument) error {
	if _, seen := t.userReads[doc.ID]; !seen {
		t.userReads[doc.ID] = doc.Version
	}
	t.users[doc.ID] = doc.Clone()
	return nil
}

func (t *pgTx) PutExercise(ctx context.Context, doc *domain.ExerciseDocument) error {
	if _, seen := t.exerciseReads[doc.ID]; !seen {
		t.exerciseReads[doc.ID] = doc.Version
	}
	t.exercises[doc.ID] = doc.Clone()
	return nil
}

func (t *pgTx) commit(ctx context.Context) error {
	tx, err := t.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", translate(err))
	}
	defer tx.Rollback(ctx)

	for id, version := range t.userReads {
		if _, written := t.users[id]; written {
			continue
		}
		if err := checkVersion(ctx, tx, "kata_users", id, version); err != nil {
			return err
		}
	}
	for id, version := range t.exerciseReads {
		if _, written := t.exercises[id]; written {
			continue
		}
		if err := checkVersion(ctx, tx, "kata_exercises", id, version); err != nil {
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

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

func checkVersion(ctx context.Context, tx pgx.Tx, table, id string, want int64) error {
	var current int64
	err := tx.QueryRow(ctx, "SELECT version FROM "+table+" WHERE id = $1 FOR SHARE", id).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check %s version: %w", table, translate(err))
	}
	if current != want {
		return domain.ErrConflict
	}
	return nil
}

func writeUser(ctx context.Context, tx pgx.Tx, doc *domain.UserDocument, readVersion int64) error {
	sets := [][]string{doc.Liked, doc.Disliked, doc.Starred, doc.Solved}
	for i := range sets {
		if sets[i] == nil {
			sets[i] = []string{}
		}
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if readVersion == 0 {
		tag, err = tx.Exec(ctx, `
			INSERT INTO kata_users (id, liked, disliked, starred, solved, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, now())
			ON CONFLICT (id) DO NOTHING
		`, doc.ID, sets[0], sets[1], sets[2], sets[3])
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE kata_users SET liked = $2, disliked = $3, starred = $4, solved = $5,
				version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $6
		`, doc.ID, sets[0], sets[1], sets[2], sets[3], readVersion)
	}
	if err != nil {
		return fmt.Errorf("write user: %w", translate(err))
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrConflict
	}
	return nil
}

func writeExercise(ctx context.Context, tx pgx.Tx, doc *domain.ExerciseDocument, readVersion int64) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if readVersion == 0 {
		tag, err = tx.Exec(ctx, `
			INSERT INTO kata_exercises (id, likes, dislikes, version, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (id) DO NOTHING
		`, doc.ID, int64(doc.Likes), int64(doc.Dislikes))
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE kata_exercises SET likes = $2, dislikes = $3,
				version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $4
		`, doc.ID, int64(doc.Likes), int64(doc.Dislikes), readVersion)
	}
	if err != nil {
		return fmt.Errorf("write exercise: %w", translate(err))
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrConflict
	}
	return nil
}

// translate maps pgx errors onto domain errors
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case "40001", "40P01", "55P03": // serialization, deadlock, lock not available
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
	}
	return err
}
