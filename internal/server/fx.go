// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/api"
	"github.com/JakeFAU/realtime-stage-tracker/internal/config"
	"github.com/JakeFAU/realtime-stage-tracker/internal/dispatcher"
	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
	"github.com/JakeFAU/realtime-stage-tracker/internal/logging"
	"github.com/JakeFAU/realtime-stage-tracker/internal/metrics"
	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
	"github.com/JakeFAU/realtime-stage-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-stage-tracker/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/realtime-stage-tracker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-stage-tracker/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/realtime-stage-tracker/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/realtime-stage-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-stage-tracker/internal/storage/local"
	memoryStorage "github.com/JakeFAU/realtime-stage-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-stage-tracker/internal/storage/postgres"
	"github.com/JakeFAU/realtime-stage-tracker/internal/store"
	"github.com/JakeFAU/realtime-stage-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-stage-tracker/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	watcher      *pipeline.Watcher
	holder       *pipeline.Holder
	progressHub  *progress.Hub
	queue        *queueMemory.Queue
	pool         *pgxpool.Pool
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	events       ingest.EventStore
	traces       store.TraceRepository
	tracer       *sdktrace.TracerProvider
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type sanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		PipelinePath   string `json:"pipeline_path"`
		StorageBackend string `json:"storage_backend"`
		Workers        int    `json:"workers"`
		Database       bool   `json:"database"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:     cfg.Server.Port,
		PipelinePath:   cfg.Pipeline.Path,
		StorageBackend: cfg.Storage.Backend,
		Workers:        cfg.Worker.Concurrency,
		Database:       cfg.Database.DSN != "",
	}))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	if a.watcher != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Error("pipeline watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	// Stop intake before waiting on workers so they drain what is queued.
	a.queue.Close()
	background.Wait()

	return a.Close(shutdownCtx)
}

// Close releases infrastructure clients. It is safe to call after Run.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		stats := a.progressHub.Stats()
		a.logger.Info("progress hub stats",
			zap.Int64("accepted", stats.Accepted),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("invalid", stats.Invalid),
			zap.Int64("sink_errors", stats.SinkErrors),
			zap.Any("by_stage", stats.ByStage),
		)
	}
	if a.publisher != nil {
		a.publisher.Close()
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
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	app.logger.Info("building application dependencies")

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracing(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		app.tracer = tp
		app.logger.Info("tracing enabled",
			zap.String("service", cfg.Tracing.ServiceName),
			zap.String("endpoint", cfg.Tracing.Endpoint),
			zap.Float64("sample_ratio", cfg.Tracing.SampleRatio),
		)
	}

	if err := setupPipeline(app); err != nil {
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Ingest.QueueDepth)
	app.dispatch = setupDispatcher(app, blobStore, publisher, emitter)

	opts := []api.Option{api.WithEmitter(emitter)}
	if cfg.RateLimit.Enabled {
		opts = append(opts, api.WithAdmission(newLimiter(cfg.RateLimit)))
		app.logger.Info("per-source rate limiting enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
			zap.Int("overrides", len(cfg.RateLimit.Sources)),
		)
	}

	app.apiServer = api.NewServer(
		app.events,
		app.dispatch,
		app.holder,
		ingest.UUIDGenerator{},
		ingest.SystemClock{},
		*cfg,
		logger.Named("api"),
		app.traces,
		opts...,
	)

	return app, nil
}

func setupPipeline(app *App) error {
	cfg := app.cfg.Pipeline
	reg := pipeline.DefaultRegistry()
	env := pipeline.Env{Logger: app.logger.Named("filter"), Clock: ingest.SystemClock{}}
	load := func() (*pipeline.Pipeline, error) {
		return pipeline.LoadFile(cfg.Path, reg, env,
			pipeline.WithLogger(app.logger.Named("pipeline")),
			pipeline.WithObserver(metrics.FilterObserver{}),
		)
	}

	app.holder = pipeline.NewHolder(nil)
	p, err := load()
	metrics.ObservePipelineReload(err)
	switch {
	case err == nil:
		app.holder.Store(p)
		app.logger.Info("pipeline loaded",
			zap.String("path", cfg.Path),
			zap.String("pipeline", p.ID()),
			zap.Int("filters", len(p.Filters())),
		)
	case cfg.Watch:
		app.logger.Error("pipeline load failed; waiting for a valid definition",
			zap.String("path", cfg.Path), zap.Error(err))
	default:
		return fmt.Errorf("pipeline load failed: %w", err)
	}

	if !cfg.Watch {
		return nil
	}
	app.watcher, err = pipeline.NewWatcher(cfg.Path, app.holder, load,
		pipeline.WithDebounce(time.Duration(cfg.DebounceMs)*time.Millisecond),
		pipeline.WithWatcherLogger(app.logger.Named("pipeline_watcher")),
		pipeline.OnReload(func(_ *pipeline.Pipeline, err error) {
			metrics.ObservePipelineReload(err)
		}),
	)
	if err != nil {
		return fmt.Errorf("pipeline watcher init failed: %w", err)
	}
	app.logger.Info("pipeline hot reload enabled", zap.String("path", cfg.Path))
	return nil
}

func setupStorage(ctx context.Context, app *App) (ingest.BlobStore, error) {
	var blobStore ingest.BlobStore
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket:   app.cfg.Storage.Bucket,
			Metadata: map[string]string{"producer": "stage-tracker"},
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
	case "local":
		app.logger.Info("using local storage backend")
		local, err := localstorage.New(app.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobStore = local
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	dbCfg := app.cfg.Database
	if dbCfg.DSN == "" {
		app.logger.Warn("no database DSN configured, keeping records and traces in memory")
		app.events = memoryStorage.NewEventStore()
		app.traces = memoryStorage.NewTraceStore()
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             dbCfg.DSN,
		MaxConns:        dbCfg.MaxConns,
		MinConns:        dbCfg.MinConns,
		MaxConnLifetime: dbCfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool
	if dbCfg.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("database migrate failed: %w", err)
		}
		app.logger.Info("database schema applied")
	}
	events, err := pgstore.NewEventStoreWithPool(pool, dbCfg.EventsTable)
	if err != nil {
		return fmt.Errorf("event store init failed: %w", err)
	}
	traces, err := pgstore.NewTraceStoreWithPool(pool)
	if err != nil {
		return fmt.Errorf("trace store init failed: %w", err)
	}
	app.events = events
	app.traces = traces
	app.logger.Info("postgres stores initialized", zap.String("events_table", dbCfg.EventsTable))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.publisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.traces, app.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

func setupDispatcher(
	app *App,
	blobStore ingest.BlobStore,
	publisher ingest.Publisher,
	emitter progress.Emitter,
) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		ContentType:   app.cfg.Storage.ContentType,
		ArchivePrefix: app.cfg.Storage.Prefix,
		Topic:         app.cfg.PubSub.TopicName,
		MaxRetries:    app.cfg.Worker.MaxRetries,
		RetryBackoff:  app.cfg.RetryBackoff(),
	}
	app.logger.Info("worker config",
		zap.Int("concurrency", app.cfg.Worker.Concurrency),
		zap.String("content_type", workerCfg.ContentType),
		zap.String("archive_prefix", workerCfg.ArchivePrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Int("max_retries", workerCfg.MaxRetries),
		zap.Duration("retry_backoff", workerCfg.RetryBackoff),
	)

	concurrency := max(app.cfg.Worker.Concurrency, 1)
	workers := make([]*worker.Worker, 0, concurrency)
	for i := range concurrency {
		workers = append(workers, worker.New(
			app.queue,
			app.events,
			blobStore,
			publisher,
			app.holder,
			ingest.SHA256Hasher{},
			ingest.SystemClock{},
			emitter,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("worker_id", i)),
		))
	}
	return dispatcher.New(app.queue, workers, dispatcher.WithLogger(app.logger.Named("dispatcher")))
}

func newLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	sources := make(map[string]ratelimit.Rule, len(cfg.Sources))
	for name, rule := range cfg.Sources {
		sources[name] = ratelimit.Rule{RPS: rule.RPS, Burst: rule.Burst}
	}
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.DefaultRPS,
		DefaultBurst: cfg.DefaultBurst,
		Sources:      sources,
	})
}
