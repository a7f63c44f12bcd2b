// Package bootstrap builds the kata service graph from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/kata/internal/config"
	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/draft"
	"github.com/felixgeelhaar/kata/internal/exercise"
	"github.com/felixgeelhaar/kata/internal/interaction"
	"github.com/felixgeelhaar/kata/internal/metrics"
	"github.com/felixgeelhaar/kata/internal/queue"
	"github.com/felixgeelhaar/kata/internal/runner"
	"github.com/felixgeelhaar/kata/internal/storage/badger"
	"github.com/felixgeelhaar/kata/internal/storage/memory"
	"github.com/felixgeelhaar/kata/internal/storage/postgres"
	"github.com/felixgeelhaar/kata/internal/storage/redis"
	"github.com/felixgeelhaar/kata/internal/storage/sqlite"
	"github.com/felixgeelhaar/kata/internal/submission"
)

// App is the wired service graph
type App struct {
	Config *config.LocalConfig

	Registry    *exercise.Registry
	Store       domain.DocumentStore
	DraftStore  domain.DraftStore
	Drafts      *draft.Cache
	Evaluator   *runner.Evaluator
	Reconciler  *interaction.Reconciler
	Submissions *submission.Service
	Metrics     *metrics.Metrics
	Publisher   domain.EventPublisher

	closers []io.Closer
}

// Build wires every component. On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.LocalConfig) (_ *App, err error) {
	app := &App{
		Config:    cfg,
		Metrics:   metrics.New(),
		Publisher: domain.NopPublisher{},
	}
	defer func() {
		if err != nil {
			if cerr := app.Close(); cerr != nil {
				slog.Warn("close partially built app", "error", cerr)
			}
		}
	}()

	if app.Registry, err = loadRegistry(cfg.Catalog); err != nil {
		return nil, err
	}

	if app.Store, err = openStore(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	app.closers = append(app.closers, app.Store)

	if err = Seed(ctx, app.Store, app.Registry); err != nil {
		return nil, err
	}

	if app.DraftStore, err = openDraftStore(cfg, app.Store); err != nil {
		return nil, fmt.Errorf("open %s draft store: %w", cfg.Drafts.Driver, err)
	}
	if any(app.DraftStore) != any(app.Store) {
		app.closers = append(app.closers, app.DraftStore)
	}

	if cfg.Events.Enabled {
		conn, err := queue.NewConnection(cfg.Events.AMQPURL)
		if err != nil {
			slog.Warn("event publishing disabled, broker unavailable", "error", err)
		} else {
			app.closers = append(app.closers, conn)
			app.Publisher = queue.NewPublisher(conn, queue.DefaultPublisherConfig())
		}
	}

	executor := newExecutor(cfg.Runner)
	app.closers = append(app.closers, executor)

	app.Evaluator = runner.NewEvaluator(app.Registry, executor, runner.Config{
		Budget:        cfg.Runner.Timeout(),
		MaxConcurrent: cfg.Runner.MaxConcurrent,
	}, app.Metrics)

	app.Reconciler = interaction.NewReconciler(app.Store, app.Registry, interaction.Config{
		MaxAttempts:  cfg.Reconciler.MaxAttempts,
		InitialDelay: time.Duration(cfg.Reconciler.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Reconciler.MaxDelayMS) * time.Millisecond,
		Publisher:    app.Publisher,
		Recorder:     app.Metrics,
	})

	app.Drafts = draft.NewCache(app.DraftStore, app.Registry)
	app.Submissions = submission.NewService(app.Registry, app.Drafts, app.Evaluator, app.Reconciler, app.Publisher)

	slog.Info("kata services ready",
		"catalog", app.Registry.Stats().Source,
		"exercises", app.Registry.Stats().ExerciseCount,
		"executor", app.Evaluator.ExecutorName(),
		"storage", cfg.Storage.Driver,
		"drafts", cfg.Drafts.Driver,
		"events", cfg.Events.Enabled,
	)
	return app, nil
}

// Watch reloads the catalog on file changes when a watched directory
// catalog is configured. Otherwise it blocks until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	if !a.Config.Catalog.Watch || a.Config.Catalog.Path == "" {
		<-ctx.Done()
		return nil
	}
	return a.Registry.Watch(ctx, a.Config.Catalog.Path)
}

// Close releases stores, connections and the executor in reverse order
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Seed inserts a zero-counter document for every catalog exercise
func Seed(ctx context.Context, store domain.DocumentStore, registry *exercise.Registry) error {
	for _, ex := range registry.ListExercises() {
		if err := store.SeedExercise(ctx, ex.ID); err != nil {
			return fmt.Errorf("seed %s: %w", ex.ID, err)
		}
	}
	return nil
}

func loadRegistry(cfg config.CatalogConfig) (*exercise.Registry, error) {
	loader := exercise.NewEmbeddedLoader()
	if cfg.Path != "" {
		loader = exercise.NewLoader(cfg.Path)
	}
	registry := exercise.NewRegistry(loader)
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", loader.Source(), err)
	}
	return registry, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (domain.DocumentStore, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), nil

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return sqlite.NewStore(db), nil

	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// openDraftStore reuses the document store when it also keeps drafts
func openDraftStore(cfg *config.LocalConfig, docs domain.DocumentStore) (domain.DraftStore, error) {
	if cfg.Drafts.Driver == cfg.Storage.Driver {
		if ds, ok := docs.(domain.DraftStore); ok {
			return ds, nil
		}
	}

	switch cfg.Drafts.Driver {
	case "memory":
		return memory.NewStore(), nil

	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		return sqlite.NewStore(db), nil

	case "redis":
		return redis.NewDraftStore(redis.Config{
			Addr:         cfg.Drafts.Redis.Addr,
			Password:     cfg.Drafts.Redis.Password,
			DB:           cfg.Drafts.Redis.DB,
			TTL:          cfg.Drafts.Redis.TTL(),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

	case "badger":
		return badger.Open(cfg.Drafts.BadgerPath)
	}
	return nil, fmt.Errorf("unknown drafts driver %q", cfg.Drafts.Driver)
}

// newExecutor prefers the configured executor and falls back to a local
// node process when Docker is unreachable
func newExecutor(cfg config.RunnerConfig) runner.Executor {
	local := runner.NewLocalExecutor(cfg.NodePath, cfg.Docker.MemoryMB)
	if cfg.Executor != "docker" {
		return local
	}

	docker, err := runner.NewDockerExecutor(runner.DockerConfig{
		Image:      cfg.Docker.Image,
		MemoryMB:   int64(cfg.Docker.MemoryMB),
		CPULimit:   cfg.Docker.CPULimit,
		PidsLimit:  int64(cfg.Docker.PidsLimit),
		NetworkOff: cfg.Docker.NetworkOff,
	})
	if err != nil {
		slog.Warn("Docker executor not available, using local executor", "error", err)
		return local
	}
	return docker
}
