// Package app builds the long-lived services of the audit process from
// configuration and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/api"
	"github.com/JakeFAU/site-audit-crawler/internal/audit"
	"github.com/JakeFAU/site-audit-crawler/internal/clock/system"
	"github.com/JakeFAU/site-audit-crawler/internal/config"
	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
	"github.com/JakeFAU/site-audit-crawler/internal/dispatcher"
	"github.com/JakeFAU/site-audit-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/site-audit-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/site-audit-crawler/internal/id/uuid"
	"github.com/JakeFAU/site-audit-crawler/internal/lock"
	"github.com/JakeFAU/site-audit-crawler/internal/metrics"
	"github.com/JakeFAU/site-audit-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/site-audit-crawler/internal/policy/robots"
	memorypublisher "github.com/JakeFAU/site-audit-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-audit-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/site-audit-crawler/internal/queue/memory"
	"github.com/JakeFAU/site-audit-crawler/internal/report"
	gcsstorage "github.com/JakeFAU/site-audit-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-audit-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-audit-crawler/internal/storage/memory"
	"github.com/JakeFAU/site-audit-crawler/internal/storage/postgres"
	"github.com/JakeFAU/site-audit-crawler/internal/worker"
)

// App holds the services shared by the CLI commands.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      crawler.RunStore
	engine     *crawler.Engine
	service    *audit.Service
	queue      *queuememory.Queue
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
	ready      api.ReadyCheck
	closers    []func()
}

// New wires every service from cfg. It fails fast when a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	clock := system.New()
	if err := a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	archiver, err := report.NewArchiver(blobs, cfg.Storage.ReportPrefix, clock)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init report archiver: %w", err)
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.buildLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	executor, err := buildExecutor(cfg.Crawler, logger.Named("fetch"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine, err = crawler.NewEngine(crawler.EngineConfig{
		Store:           a.store,
		Executor:        executor,
		Extractor:       extract.New(logger.Named("extract")),
		Controls:        crawler.NewControls(),
		Clock:           clock,
		Publisher:       publisher,
		Topic:           cfg.PubSub.Topic,
		Archiver:        archiver,
		CheckpointEvery: cfg.Crawler.CheckpointEvery,
		Logger:          logger.Named("engine"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	a.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		workers = append(workers, worker.New(i, a.queue, a.engine, locker, logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatcher, err = dispatcher.New(dispatcher.Config{Queue: a.queue, Workers: workers, Logger: logger.Named("dispatcher")})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	a.service, err = audit.New(audit.Config{
		Store:    a.store,
		Engine:   a.engine,
		Queue:    a.dispatcher,
		Locker:   locker,
		IDs:      uuid.New(),
		Clock:    clock,
		Defaults: cfg.Crawler.DefaultSettings(),
		Logger:   logger.Named("audit"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init audit service: %w", err)
	}

	a.server = api.NewServer(a.service, api.Options{Auth: cfg.Auth, Ready: a.ready}, logger.Named("api"))
	logger.Info("application services initialized",
		zap.String("run_store", cfg.Storage.RunStore),
		zap.String("blob_store", cfg.Storage.BlobStore),
		zap.String("lock", cfg.Lock.Provider),
		zap.Int("workers", cfg.Crawler.Workers),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) error {
	switch a.cfg.Storage.RunStore {
	case config.BackendPostgres:
		pg, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("init postgres run store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if a.cfg.DB.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		a.store = pg
		a.ready = pg.Ping
	default:
		a.store = memorystorage.NewRunStore()
	}
	return nil
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.BlobStore {
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{Dir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client failed", zap.Error(err))
			}
		})
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(a.logger.Named("publisher")), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client, a.cfg.PubSub.Topic)
	a.closers = append(a.closers, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client failed", zap.Error(err))
		}
	})
	return pub, nil
}

func (a *App) buildLocker(ctx context.Context) (crawler.Locker, error) {
	if a.cfg.Lock.Provider != config.BackendRedis {
		return lock.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Lock.RedisAddr,
		Password: a.cfg.Lock.RedisPassword,
		DB:       a.cfg.Lock.RedisDB,
	})
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close redis client failed", zap.Error(err))
		}
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	locker, err := lock.NewRedis(client, a.cfg.Lock.TTL(), a.logger.Named("lock"))
	if err != nil {
		return nil, fmt.Errorf("init redis lock: %w", err)
	}
	return locker, nil
}

func buildExecutor(cfg config.CrawlerConfig, logger *zap.Logger) (*crawler.FetchExecutor, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.UserAgent,
		Timeout:      time.Duration(cfg.TimeoutMs) * time.Millisecond,
		MaxRedirects: cfg.MaxRedirects,
		MaxBodySize:  cfg.MaxBodyBytes,
	}, nil)
	executor, err := crawler.NewFetchExecutor(crawler.ExecutorConfig{
		Fetcher: fetcher,
		Robots: robots.New(robots.Config{
			UserAgent: cfg.UserAgent,
			TTL:       cfg.RobotsTTL(),
		}, nil, logger.Named("robots")),
		Throttle: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HostRPS,
			DefaultBurst: cfg.HostBurst,
		}),
		Retry:           crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase(), cfg.BackoffMax()),
		PolitenessDelay: cfg.PolitenessDelay(),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init fetch executor: %w", err)
	}
	return executor, nil
}

// Service returns the audit service.
func (a *App) Service() *audit.Service {
	return a.service
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run drives the worker pool until ctx ends and requeues work left by a
// previous process once the workers are consuming. Runs interrupted by
// cancellation are left paused at their current frontier. A recovery failure
// does not stop the pool; it is returned after the workers exit.
func (a *App) Run(ctx context.Context) error {
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.dispatcher.Run(ctx)
	}()

	// Recovery can queue more runs than the queue holds, so it must not run
	// before the workers start draining it.
	var recoverErr error
	if _, err := a.service.Recover(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("recover runs failed", zap.Error(err))
		recoverErr = fmt.Errorf("recover runs: %w", err)
	}
	<-workersDone
	return recoverErr
}

// Close stops accepting work and releases backend clients in reverse order.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
