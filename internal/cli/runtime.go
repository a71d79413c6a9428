package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"pipesync/internal/auth"
	"pipesync/internal/cache"
	"pipesync/internal/config"
	"pipesync/internal/logging"
	"pipesync/internal/orchestrator"
	"pipesync/internal/repository"
	"pipesync/internal/services"
	"pipesync/internal/state"
)

func loadRuntime(opts *RootOptions) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.New(logging.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	return cfg, logger, nil
}

// openRemoteStore connects the keyed-table store selected by
// cfg.Remote.Driver. It returns a nil store when cloud sync is disabled.
func openRemoteStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Remote.Driver {
	case "":
		return nil, noop, nil
	case "postgres", "pgx":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresStore(pool), func() error { pool.Close(); return nil }, nil
	case "sqlite", "gorm-postgres":
		open := repository.OpenSQLite
		dsn := cfg.Remote.DSN
		if cfg.Remote.Driver == "gorm-postgres" {
			open = repository.OpenGormPostgres
			dsn = cfg.PostgresDSN()
		}
		db, err := open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Remote.Driver, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewGormStore(db)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown remote driver %q", cfg.Remote.Driver)
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// identityProvider returns the OIDC provider when an issuer is configured
// and a static identity otherwise.
func identityProvider(ctx context.Context, cfg *config.Config, kv cache.KV, logger *logging.Logger) (auth.Provider, error) {
	if cfg.Auth.Issuer != "" {
		return auth.NewOIDC(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID, kv, logger)
	}
	return auth.NewStatic(cfg.Auth.UserID, cfg.Auth.Guest || cfg.Auth.UserID == ""), nil
}

// session is one wired sync engine.
type session struct {
	cfg      *config.Config
	logger   *logging.Logger
	kv       cache.KV
	store    *state.Store
	orch     *orchestrator.Orchestrator
	remote   repository.Store
	identity auth.Provider
	closers  []func() error
}

func openSession(ctx context.Context, cfg *config.Config, logger *logging.Logger, meter metric.Meter) (_ *session, err error) {
	s := &session{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	kv, closeKV, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.kv = kv
	s.closers = append(s.closers, closeKV)

	remote, closeRemote, err := openRemoteStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.remote = remote
	s.closers = append(s.closers, closeRemote)

	if s.identity, err = identityProvider(ctx, cfg, kv, logger); err != nil {
		return nil, err
	}
	id, err := s.identity.Identity(ctx)
	if err != nil {
		return nil, err
	}

	p := orchestrator.Params{
		Cache:    cache.NewSnapshotCache(kv),
		Identity: id,
		Options: orchestrator.Options{
			DebounceDelay: cfg.Sync.DebounceDelay,
			MinInterval:   cfg.Sync.MinInterval,
			RetryDelay:    cfg.Sync.RetryDelay,
		},
		Logger: logger,
		Meter:  meter,
	}
	if remote != nil {
		p.Remote = services.NewRemoteStoreService(remote, logger, services.WithBatchSize(cfg.Remote.BatchSize))
	}
	if cfg.FileBackend.URL != "" {
		p.FileBackend = services.NewHTTPFileBackend(cfg.FileBackend.URL, cfg.FileBackend.Secret, cfg.FileBackend.Timeout)
	}
	s.store = state.NewStore()
	p.Store = s.store

	if s.orch, err = orchestrator.New(p); err != nil {
		return nil, err
	}
	return s, nil
}

// Close stops the engine, flushing the local cache, and releases
// connections.
func (s *session) Close() error {
	if s.orch != nil {
		s.orch.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
