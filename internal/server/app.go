// Package server builds the application's dependencies and runs the HTTP
// server alongside the trigger scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/api"
	"github.com/JakeFAU/site-mirror/internal/catalog"
	"github.com/JakeFAU/site-mirror/internal/clock/system"
	"github.com/JakeFAU/site-mirror/internal/config"
	"github.com/JakeFAU/site-mirror/internal/crawl"
	"github.com/JakeFAU/site-mirror/internal/id/uuid"
	"github.com/JakeFAU/site-mirror/internal/logging"
	"github.com/JakeFAU/site-mirror/internal/orchestrator"
	"github.com/JakeFAU/site-mirror/internal/publish"
	gcppublisher "github.com/JakeFAU/site-mirror/internal/publisher/pubsub"
	"github.com/JakeFAU/site-mirror/internal/schedule"
	"github.com/JakeFAU/site-mirror/internal/settings"
	"github.com/JakeFAU/site-mirror/internal/state"
	blob "github.com/JakeFAU/site-mirror/internal/storage"
	gcsstorage "github.com/JakeFAU/site-mirror/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-mirror/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-mirror/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-mirror/internal/storage/postgres"
	"github.com/JakeFAU/site-mirror/internal/telemetry"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	eventSource            = "site-mirror"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	orchestrator    *orchestrator.Orchestrator
	crawler         *crawl.Executor
	scheduler       *schedule.Scheduler
	apiServer       *api.Server
	redis           redis.UniversalClient
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	artifactStore   *pgstore.ArtifactStore
	telemetry       *telemetry.Providers
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator returns the trigger to run pipeline.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the scheduler and the HTTP server and blocks until the context
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start()
	if err := a.orchestrator.Resume(ctx); err != nil {
		a.logger.Error("resume failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. An in-flight run finishes
// before Close returns.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.artifactStore != nil {
		a.artifactStore.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	//nolint:errcheck // stderr sync fails on some platforms
	a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("catalog_backend", cfg.Catalog.Backend),
		zap.String("state_backend", cfg.State.Backend),
	)

	providers, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.telemetry = providers

	clock := system.New()
	ids := uuid.New()

	bucket, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	repo, err := setupCatalog(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	stateStore, settingsStore, err := setupState(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.crawler = crawl.NewExecutor(nil, uuid.Short{}, crawl.Config{
		Binary:      cfg.Crawler.Binary,
		ScratchRoot: cfg.Crawler.ScratchRoot,
		HomeURL:     cfg.Site.HomeURL,
	}, logger.Named("crawl"))
	if err := app.crawler.Check(); err != nil {
		logger.Warn("crawl program not found; runs will fail until it is installed",
			zap.String("binary", app.crawler.Binary()))
	}

	app.scheduler = schedule.New(clock, logger.Named("schedule"))
	app.orchestrator = orchestrator.New(orchestrator.Config{
		Debounce:        cfg.Orchestrator.DebounceDelay,
		Retry:           cfg.Orchestrator.RetryDelay,
		DestinationRoot: cfg.Orchestrator.DestinationRoot,
		ExpirySpec:      cfg.Catalog.ExpirySchedule,
	}, orchestrator.Deps{
		State:     stateStore,
		Scheduler: app.scheduler,
		Settings:  settings.NewResolver(settingsStore, cfg.Site.HomeURL, logger.Named("settings")),
		Crawler:   app.crawler,
		Publisher: publish.New(bucket, logger.Named("publish")),
		Catalog: catalog.New(repo, bucket, ids, clock, catalog.Config{TTL: cfg.Catalog.TTL},
			logger.Named("catalog")),
		Notifier: notifier,
		Clock:    clock,
		IDs:      ids,
		Logger:   logger.Named("orchestrator"),
	})

	app.apiServer = api.NewServer(app.orchestrator, app.crawler, cfg, logger.Named("api"))
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (blob.Bucket, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		bucket, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        cfg.GCSBucket,
			Prefix:        cfg.Prefix,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return bucket, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.BaseDir))
		bucket, err := localstorage.New(localstorage.Config{
			BaseDir:       cfg.BaseDir,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return bucket, nil
	default:
		app.logger.Warn("using in-memory storage backend; mirrors are lost on restart")
		return memorystorage.NewBlobStore(false), nil
	}
}

func setupCatalog(ctx context.Context, app *App) (catalog.Repository, error) {
	cfg := app.cfg.Catalog
	if cfg.Backend != config.BackendPostgres {
		app.logger.Warn("using in-memory catalog; mirror records are lost on restart")
		return catalog.NewMemoryRepository(), nil
	}
	store, err := pgstore.NewArtifactStore(ctx, pgstore.ArtifactStoreConfig{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}
	app.artifactStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("artifact schema init failed: %w", err)
	}
	app.logger.Info("artifact store initialized", zap.String("table", cfg.Table))
	return store, nil
}

func setupState(ctx context.Context, app *App) (state.Store, settings.Store, error) {
	cfg := app.cfg.State
	lockTTL := app.cfg.Orchestrator.LockTTL
	if cfg.Backend != config.BackendRedis {
		app.logger.Warn("using in-memory orchestration state; only one instance may run")
		return state.NewMemoryStore(lockTTL), settings.NewMemoryStore(nil), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	app.redis = client
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	app.logger.Info("redis state initialized", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	return state.NewRedisStore(client, cfg.KeyPrefix, lockTTL),
		settings.NewRedisStore(client, cfg.KeyPrefix+":settings"), nil
}

func setupNotifier(ctx context.Context, app *App) (orchestrator.Notifier, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, mirror events are not published")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = client.Publisher(cfg.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher, eventSource), nil
}
