// Package app builds and holds the long-lived services shared by the CLI
// commands and the web server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/clock/system"
	"github.com/JakeFAU/headline-tracker/internal/config"
	"github.com/JakeFAU/headline-tracker/internal/detector"
	collyfetcher "github.com/JakeFAU/headline-tracker/internal/fetcher/colly"
	"github.com/JakeFAU/headline-tracker/internal/hash/sha256"
	"github.com/JakeFAU/headline-tracker/internal/id/uuid"
	"github.com/JakeFAU/headline-tracker/internal/logging"
	"github.com/JakeFAU/headline-tracker/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/headline-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/headline-tracker/internal/storage/gcs"
	"github.com/JakeFAU/headline-tracker/internal/storage/local"
	"github.com/JakeFAU/headline-tracker/internal/storage/memory"
	"github.com/JakeFAU/headline-tracker/internal/storage/postgres"
	"github.com/JakeFAU/headline-tracker/internal/storage/sqlite"
	"github.com/JakeFAU/headline-tracker/internal/telemetry"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// App is the dependency container built once per process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     tracker.Store
	publisher tracker.Publisher
	runner    *tracker.Runner

	blobMu sync.Mutex
	blobs  tracker.BlobStore

	closeOnce sync.Once
	closers   []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New opens the configured store and side-effect sinks and builds the run
// orchestrator. Any failure closes what was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.addCloser("tracing", func() error { return tp.Shutdown(context.Background()) })

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.addCloser("store", store.Close)

	if cfg.Archive.Enabled {
		if _, err := a.BlobStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.PubSub.TopicName != "" {
		if err := a.openPublisher(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	deps := tracker.Deps{
		Store:     store,
		Fetcher:   a.newFetcher(),
		Publisher: a.publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
	}
	if a.blobs != nil {
		deps.Blobs = a.blobs
	}
	runner, err := tracker.New(deps, tracker.Config{
		ArchiveEnabled: cfg.Archive.Enabled,
		ArchivePrefix:  cfg.Storage.Prefix,
		Topic:          cfg.PubSub.TopicName,
	}, logging.Component(logger, "tracker"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build runner: %w", err)
	}
	a.runner = runner

	logger.Info("application services initialized",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Bool("publish", a.publisher != nil),
	)
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the profile store.
func (a *App) Store() tracker.Store { return a.store }

// Runner returns the run orchestrator.
func (a *App) Runner() *tracker.Runner { return a.runner }

// StoreLocation describes where profiles are persisted.
func (a *App) StoreLocation() string {
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite:
		return a.cfg.Storage.SQLitePath
	case config.DriverPostgres:
		return "postgres (" + a.cfg.DB.ProfilesTable + ", " + a.cfg.DB.HistoryTable + ")"
	default:
		return "memory"
	}
}

// BlobStore returns the archive destination, opening it on first use. GCS
// wins over the local directory when both are configured.
func (a *App) BlobStore(ctx context.Context) (tracker.BlobStore, error) {
	a.blobMu.Lock()
	defer a.blobMu.Unlock()
	if a.blobs != nil {
		return a.blobs, nil
	}
	switch {
	case a.cfg.Storage.GCSBucket != "":
		bs, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket}, logging.Component(a.logger, "gcs"))
		if err != nil {
			return nil, fmt.Errorf("open gcs blob store: %w", err)
		}
		a.blobs = bs
		a.addCloser("gcs", bs.Close)
	case a.cfg.Storage.LocalDir != "":
		bs, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		a.blobs = bs
	default:
		return nil, errors.New("no blob store configured: set storage.gcs_bucket or storage.local_dir")
	}
	return a.blobs, nil
}

// Close shuts services down in reverse order of creation.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.close(); err != nil {
				a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			}
		}
		_ = a.logger.Sync()
	})
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) openStore(ctx context.Context) (tracker.Store, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite, "":
		store, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:           a.cfg.DB.DSN,
			ProfilesTable: a.cfg.DB.ProfilesTable,
			HistoryTable:  a.cfg.DB.HistoryTable,
			MaxConns:      a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		a.logger.Warn("using in-memory store; profiles are lost on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context) error {
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client, a.cfg.PubSub.TopicName, logging.Component(a.logger, "pubsub"))
	a.publisher = pub
	a.addCloser("pubsub", func() error {
		pub.Close()
		return client.Close()
	})
	return nil
}

func (a *App) newFetcher() *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{MinInterval: a.cfg.MinInterval()})
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.HTTPTimeout(),
		RetryBackoff:  a.cfg.RetryBackoff(),
	}, detector.NewAuthWall(a.cfg.Detector.Markers), limiter, logging.Component(a.logger, "fetcher"))
}
