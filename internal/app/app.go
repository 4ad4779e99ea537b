// Package app assembles the scraper from configuration and drives one run. It
// is the only package that knows every collaborator; everything below it takes
// its dependencies as arguments.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/api"
	"github.com/certpull/certpull/internal/checkpoint"
	"github.com/certpull/certpull/internal/clock/system"
	"github.com/certpull/certpull/internal/config"
	"github.com/certpull/certpull/internal/dataset"
	"github.com/certpull/certpull/internal/export"
	"github.com/certpull/certpull/internal/extract"
	"github.com/certpull/certpull/internal/hash/sha256"
	"github.com/certpull/certpull/internal/id/uuid"
	"github.com/certpull/certpull/internal/logging"
	"github.com/certpull/certpull/internal/metrics"
	"github.com/certpull/certpull/internal/mirror"
	"github.com/certpull/certpull/internal/notify"
	notifypubsub "github.com/certpull/certpull/internal/notify/pubsub"
	"github.com/certpull/certpull/internal/progress"
	progresssinks "github.com/certpull/certpull/internal/progress/sinks"
	"github.com/certpull/certpull/internal/scrape"
	"github.com/certpull/certpull/internal/transport"
)

// App contains the wired application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	engine    *scrape.Engine
	hub       *progress.Hub
	snapshot  *progresssinks.SnapshotSink
	apiServer *api.Server

	exporter  *export.Exporter
	gcsClient *gcs.Client
	publisher *notifypubsub.Publisher
}

// NewApp creates an App shell around cfg and logger.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("creating application",
		zap.String("dataset", cfg.Output.Path),
		zap.Int64("start_id", cfg.Scrape.StartID),
		zap.Int64("end_id", cfg.Scrape.EndID),
		zap.Bool("server", cfg.Server.Enabled),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Build creates the application's dependencies. ctx outlives Build: it is the
// base context for background integration calls, so the caller should pass
// its run context.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	clock := system.New()
	tracker := scrape.NewTracker()

	client, err := transport.New(transport.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		ConnectTimeout:    cfg.ConnectTimeout(),
		Concurrency:       cfg.Scrape.Concurrency,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	}, logger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("transport init failed: %w", err)
	}

	policy := scrape.NewBackoffPolicy(
		time.Duration(cfg.HTTP.BackoffCapSeconds)*time.Second,
		time.Duration(cfg.HTTP.RateLimitCapSeconds)*time.Second,
	)
	worker := scrape.NewWorker(scrape.WorkerConfig{
		BaseURL:    cfg.Scrape.BaseURL,
		MaxRetries: cfg.Scrape.MaxRetries,
	}, client, extract.NewCertificateExtractor(), policy, clock, tracker, logger.Named("worker"))

	store, err := dataset.NewStore(cfg.Output.Path, sha256.New(), clock, logger.Named("dataset"))
	if err != nil {
		return nil, fmt.Errorf("dataset store init failed: %w", err)
	}
	checkpoints, err := checkpoint.NewStore(cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store init failed: %w", err)
	}

	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	cycle, err := setupIntegrations(ctx, app, store, tracker, clock)
	if err != nil {
		return nil, err
	}
	var datasetStore scrape.DatasetStore = store
	if cycle != nil {
		datasetStore = cycle
	}

	app.engine = scrape.NewEngine(scrape.Config{
		BaseURL:     cfg.Scrape.BaseURL,
		StartID:     cfg.Scrape.StartID,
		EndID:       cfg.Scrape.EndID,
		Concurrency: cfg.Scrape.Concurrency,
		MaxRetries:  cfg.Scrape.MaxRetries,
		BatchSize:   cfg.Scrape.BatchSize,
	}, worker, scrape.NewGovernor(cfg.Scrape.Concurrency), tracker,
		datasetStore, checkpoints, clock, emitter, logger.Named("engine"))
	if cycle != nil {
		cycle.bindRun(app.engine.RunID().String())
	}

	if cfg.Server.Enabled {
		app.apiServer = api.NewServer(app.snapshot, logger.Named("api"))
	}

	return app, nil
}

// setupProgress wires the progress hub. The log sink always runs; the
// snapshot and Prometheus sinks only matter when the ops server exposes
// /progress and /metrics, so they are wired only then.
func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
	}
	if app.cfg.Server.Enabled {
		app.snapshot = progresssinks.NewSnapshotSink()
		sinkList = append(sinkList, app.snapshot)

		promSink, err := progresssinks.NewPrometheusSink(nil)
		if err != nil {
			return nil, fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}

	app.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress_hub"),
	}, sinkList...)
	return app.hub, nil
}

// setupIntegrations builds the enabled post-persist integrations and wraps
// store with them. It returns nil when none are enabled.
func setupIntegrations(
	ctx context.Context,
	app *App,
	store *dataset.Store,
	tracker *scrape.Tracker,
	clock scrape.Clock,
) (*cycleStore, error) {
	var exp recordExporter
	if app.cfg.Export.Enabled {
		e, err := export.New(ctx, export.Config{
			DSN:   app.cfg.Export.DSN,
			Table: app.cfg.Export.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("exporter init failed: %w", err)
		}
		app.exporter = e
		exp = e
		app.logger.Info("record export enabled", zap.String("table", app.cfg.Export.Table))
	}

	var mir datasetMirror
	if app.cfg.Mirror.Enabled {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		m, err := mirror.New(client, mirror.Config{
			Bucket: app.cfg.Mirror.Bucket,
			Prefix: app.cfg.Mirror.Prefix,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("mirror init failed: %w", err)
		}
		mir = m
		app.logger.Info("dataset mirror enabled", zap.String("bucket", app.cfg.Mirror.Bucket))
	}

	var ntf cycleNotifier
	if app.cfg.Notify.Enabled {
		pub, err := notifypubsub.New(ctx, app.cfg.Notify.ProjectID, app.cfg.Notify.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.publisher = pub
		n, err := notify.New(pub, app.cfg.Notify.TopicName, uuid.NewUUIDGenerator(), clock, app.logger.Named("notify"))
		if err != nil {
			return nil, fmt.Errorf("notifier init failed: %w", err)
		}
		ntf = n
		app.logger.Info("persist notifications enabled", zap.String("topic", app.cfg.Notify.TopicName))
	}

	return newCycleStore(store, exp, mir, ntf, tracker, ctx, app.logger.Named("integrations")), nil
}

// Run executes one scrape run and blocks until it finishes or a signal
// arrives. The optional ops server runs for the duration of the scrape.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// The ops server is observability only; its failure never
				// aborts a scrape.
				a.logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	_, runErr := a.engine.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	a.Close(shutdownCtx)
	return runErr
}

// Close gracefully shuts down the application's services. The progress hub
// closes first so its final flush reaches sinks before integrations go away.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.exporter != nil {
		a.exporter.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}
