package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cyltrack/internal/infra/archive"
	"cyltrack/internal/infra/local/sqlite"
	"cyltrack/internal/infra/remote/postgres"
	"cyltrack/internal/store"
)

// StoreConfig selects the backends for OpenStore. Environment variables fill
// anything left zero:
//
//	CYLTRACK_REMOTE_DRIVER      postgres (default postgres)
//	CYLTRACK_POSTGRES_DSN       remote connection string
//	CYLTRACK_LOCAL_SQLITE_PATH  local durable copy (interactive mode)
//	CYLTRACK_ARCHIVE_DRIVER     fs|s3|memory (see archive.Open)
type StoreConfig struct {
	// Interactive enables the local sqlite copy: it is hydrated on startup
	// and rewritten on every save.
	Interactive bool

	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Metrics    *store.Metrics // optional; built from Registerer when nil
	RetryDelay time.Duration
}

// OpenStore builds the synchronized store from the environment: the remote
// authoritative database, the optional local copy, and the snapshot archive.
func OpenStore(ctx context.Context, cfg StoreConfig) (*store.Store, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = store.NewMetrics(cfg.Registerer)
	}
	driver := os.Getenv("CYLTRACK_REMOTE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}
	if driver != "postgres" {
		return nil, fmt.Errorf("unknown remote driver %s", driver)
	}
	remote, err := postgres.NewStore(os.Getenv("CYLTRACK_POSTGRES_DSN"))
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}

	var local store.LocalStore
	if cfg.Interactive {
		l, err := sqlite.NewStore(os.Getenv("CYLTRACK_LOCAL_SQLITE_PATH"))
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		local = l
	}

	arch, err := archive.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	return store.New(ctx, store.Options{
		Remote:      remote,
		Local:       local,
		Archive:     arch,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		Interactive: cfg.Interactive,
		RetryDelay:  cfg.RetryDelay,
	})
}

// OpenService opens the store from the environment and wires the service on
// top of it, sharing one metrics set between the two.
func OpenService(ctx context.Context, cfg StoreConfig) (*Service, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = store.NewMetrics(cfg.Registerer)
	}
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewService(ServiceOptions{
		Store:   st,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
}
