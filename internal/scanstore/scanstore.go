// Package scanstore is the process-wide entry point to scan result storage.
// A Handle starts on the null backend and is pointed at a real backend once,
// at startup, with Configure.
package scanstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/yourorg/scancache/internal/artifactory"
	"github.com/yourorg/scancache/internal/config"
	"github.com/yourorg/scancache/internal/db"
	"github.com/yourorg/scancache/internal/model"
	"github.com/yourorg/scancache/internal/objectstore"
	"github.com/yourorg/scancache/internal/s3"
	"github.com/yourorg/scancache/internal/storage"
)

// Deps are the resources a backend uses but does not own.
type Deps struct {
	// DB is the open connection for the postgres and sqlite backends.
	DB *sql.DB
	// HTTP is used by the artifactory transport; nil selects a default client.
	HTTP   *http.Client
	Logger *log.Logger
}

func (d Deps) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// Open validates cfg and builds the storage it describes. Validation runs
// before anything is constructed, so a blank required field fails with a
// *config.FieldError and no side effects.
func Open(ctx context.Context, cfg config.Storage, deps Deps) (*storage.Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := model.ParseCompatibility(cfg.Compatibility)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	return storage.New(backend, storage.WithCompatibility(policy), storage.WithLogger(deps.logger())), nil
}

func openBackend(ctx context.Context, cfg config.Storage, deps Deps) (storage.Backend, error) {
	logger := deps.logger()

	switch cfg.Backend {
	case config.BackendNull:
		return storage.NewNull(), nil

	case config.BackendPostgres, config.BackendSQLite:
		if deps.DB == nil {
			return nil, fmt.Errorf("%s storage: no database connection supplied", cfg.Backend)
		}
		store, err := db.New(deps.DB, cfg.Backend, cfg.Postgres.Schema, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			if !db.IsInsufficientPrivilege(err) {
				return nil, err
			}
			logger.Warn("ensure schema skipped due to insufficient privilege", "err", err)
		}
		return store, nil

	case config.BackendArtifactory:
		client, err := artifactory.New(artifactory.Options{
			URL:        cfg.Artifactory.URL,
			Repository: cfg.Artifactory.Repository,
			APIToken:   cfg.Artifactory.APIToken,
			CacheDir:   cfg.Artifactory.CacheDir,
			HTTPClient: deps.HTTP,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return objectstore.New(client,
			objectstore.WithName(config.BackendArtifactory),
			objectstore.WithScratchDir(cfg.ScratchDir),
			objectstore.WithLogger(logger),
		), nil

	case config.BackendS3:
		client, err := s3.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.UseSSL, cfg.S3.Region, cfg.S3.Bucket)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return objectstore.New(client,
			objectstore.WithName(config.BackendS3),
			objectstore.WithScratchDir(cfg.ScratchDir),
			objectstore.WithLogger(logger),
		), nil
	}
	return nil, errors.New("unreachable: backend passed validation but has no constructor")
}

// Handle holds the active storage and read statistics.
type Handle struct {
	active atomic.Pointer[storage.Storage]
	stats  storage.Stats
}

// New returns a Handle on the null backend.
func New() *Handle {
	h := &Handle{}
	h.active.Store(storage.New(nil))
	return h
}

// Configure opens the storage described by cfg and installs it. On error
// the previous storage stays active. Calls already in flight finish on the
// storage they started with.
func (h *Handle) Configure(ctx context.Context, cfg config.Storage, deps Deps) error {
	s, err := Open(ctx, cfg, deps)
	if err != nil {
		return err
	}
	h.Use(s)
	deps.logger().Info("scan result storage configured", "backend", s.Backend().Name())
	return nil
}

// Use installs s directly.
func (h *Handle) Use(s *storage.Storage) {
	if s == nil {
		s = storage.New(nil)
	}
	h.active.Store(s)
}

func (h *Handle) storage() *storage.Storage { return h.active.Load() }

// BackendName reports the active backend.
func (h *Handle) BackendName() string { return h.storage().Backend().Name() }

func (h *Handle) Read(ctx context.Context, id model.Identifier) model.ScanResultContainer {
	c := h.storage().Read(ctx, id)
	h.stats.Record(!c.IsEmpty())
	return c
}

// ReadStored returns the results for id in their stored form.
func (h *Handle) ReadStored(ctx context.Context, id model.Identifier) model.ScanResultContainer {
	c := h.storage().ReadStored(ctx, id)
	h.stats.Record(!c.IsEmpty())
	return c
}

func (h *Handle) ReadFor(ctx context.Context, pkg model.Package, scanner model.ScannerDetails) model.ScanResultContainer {
	c := h.storage().ReadFor(ctx, pkg, scanner)
	h.stats.Record(!c.IsEmpty())
	return c
}

// Add is not counted in the statistics.
func (h *Handle) Add(ctx context.Context, id model.Identifier, result model.ScanResult) bool {
	return h.storage().Add(ctx, id, result)
}

func (h *Handle) ListPackages(ctx context.Context) []model.Identifier {
	return h.storage().ListPackages(ctx)
}

func (h *Handle) Stats() model.AccessStatistics { return h.stats.Snapshot() }
