// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	gcsarchive "github.com/JakeFAU/realtime-news-indexer/internal/archive/gcs"
	localarchive "github.com/JakeFAU/realtime-news-indexer/internal/archive/local"
	memoryarchive "github.com/JakeFAU/realtime-news-indexer/internal/archive/memory"
	"github.com/JakeFAU/realtime-news-indexer/internal/clock/system"
	"github.com/JakeFAU/realtime-news-indexer/internal/config"
	"github.com/JakeFAU/realtime-news-indexer/internal/enrich"
	"github.com/JakeFAU/realtime-news-indexer/internal/feed"
	"github.com/JakeFAU/realtime-news-indexer/internal/id/uuid"
	"github.com/JakeFAU/realtime-news-indexer/internal/index/elastic"
	memoryindex "github.com/JakeFAU/realtime-news-indexer/internal/index/memory"
	"github.com/JakeFAU/realtime-news-indexer/internal/index/postgres"
	redislock "github.com/JakeFAU/realtime-news-indexer/internal/lock/redis"
	"github.com/JakeFAU/realtime-news-indexer/internal/news"
	"github.com/JakeFAU/realtime-news-indexer/internal/normalize"
	"github.com/JakeFAU/realtime-news-indexer/internal/pipeline"
	kafkapublisher "github.com/JakeFAU/realtime-news-indexer/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/realtime-news-indexer/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/realtime-news-indexer/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-news-indexer/internal/resolver"
	"github.com/JakeFAU/realtime-news-indexer/internal/retention"
	"github.com/JakeFAU/realtime-news-indexer/internal/telemetry"
)

// Index is the article store plus its lifecycle.
type Index interface {
	news.Index
	Close() error
}

// App holds the shared, long-lived services built from one Config. It is
// created once at startup and closed once at shutdown.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	index        Index
	sweeper      *retention.Sweeper
	orchestrator *pipeline.Orchestrator
	closers      []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Index returns the configured article index.
func (a *App) Index() Index { return a.index }

// Sweeper returns the retention sweeper bound to the index.
func (a *App) Sweeper() *retention.Sweeper { return a.sweeper }

// Orchestrator returns the ingestion pipeline.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// New builds every service named by cfg. On failure, services already built
// are closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger.Info("initializing application services",
		zap.String("index", cfg.Index.Backend),
		zap.String("resolver", cfg.Resolver.Mode),
		zap.String("publish", cfg.Publish.Backend),
		zap.String("archive", cfg.Archive.Backend),
	)

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		ProjectID:   cfg.Tracing.ProjectID,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.track("tracing", func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(flushCtx)
	})

	index, err := a.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	a.index = index

	source, err := feed.New(feed.Config{
		BaseURL:   cfg.Feed.BaseURL,
		APIKey:    cfg.Feed.APIKey,
		Headers:   cfg.Feed.Headers,
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   cfg.Feed.Timeout,
		MaxItems:  cfg.Feed.MaxItems,
	}, logger.Named("feed"))
	if err != nil {
		return nil, fmt.Errorf("init feed: %w", err)
	}

	clock := system.New()
	a.sweeper = retention.New(index, clock, cfg.Retention.Days, logger.Named("retention"))

	deps := pipeline.Deps{
		Source:     source,
		Sessions:   a.buildSessions(),
		Normalizer: normalize.New(),
		Index:      index,
		Sweeper:    a.sweeper,
		Clock:      clock,
		IDs:        uuid.New(),
	}
	if cfg.Pipeline.Enrich {
		deps.Enricher = enrich.Lexicon{}
	}
	if deps.Publisher, err = a.buildPublisher(ctx); err != nil {
		return nil, err
	}
	if deps.Archive, err = a.buildArchive(ctx); err != nil {
		return nil, err
	}
	if deps.Locker, err = a.buildLocker(ctx); err != nil {
		return nil, err
	}

	a.orchestrator, err = pipeline.New(deps, pipeline.Config{
		Workers:       cfg.Pipeline.Workers,
		RunTimeout:    cfg.Pipeline.RunTimeout,
		SweepAfterRun: cfg.Pipeline.SweepAfterRun,
		LockKey:       cfg.Lock.Key,
		LockTTL:       cfg.Lock.TTL,
		Topic:         cfg.Publish.Topic,
		ArchivePrefix: cfg.Archive.Prefix,
		ContentType:   cfg.Archive.ContentType,
	}, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildIndex(ctx context.Context) (Index, error) {
	cfg := a.cfg.Index
	switch cfg.Backend {
	case config.IndexElasticsearch:
		idx, err := elastic.New(elastic.Config{
			URL:      cfg.URL,
			Index:    cfg.Name,
			Username: cfg.Username,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("init elasticsearch index: %w", err)
		}
		if err := idx.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure elasticsearch index: %w", err)
		}
		a.track("elasticsearch", idx.Close)
		return idx, nil
	case config.IndexPostgres:
		idx, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres index: %w", err)
		}
		a.track("postgres", idx.Close)
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		return idx, nil
	case config.IndexMemory:
		a.logger.Warn("using in-memory index; documents are lost on exit")
		return memoryindex.New(), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

func (a *App) buildSessions() news.SessionFactory {
	cfg := a.cfg.Resolver
	rcfg := resolver.Config{
		UserAgent:          cfg.UserAgent,
		Headless:           cfg.Headless,
		StartTimeout:       cfg.StartTimeout,
		NavigationTimeout:  cfg.NavTimeout,
		WaitTimeout:        cfg.WaitTimeout,
		SettleDelay:        cfg.SettleDelay,
		DomainQPS:          cfg.DomainQPS,
		ContainerSelectors: cfg.ContainerSelectors,
		PruneTags:          cfg.PruneTags,
		PruneClasses:       cfg.PruneClasses,
	}
	if cfg.Mode == config.ResolverHTTP {
		return resolver.NewStatic(rcfg, a.logger.Named("resolver"))
	}
	return resolver.NewBrowser(rcfg, a.logger.Named("resolver"))
}

func (a *App) buildPublisher(ctx context.Context) (news.Publisher, error) {
	cfg := a.cfg.Publish
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memorypublisher.New(), nil
	case config.BackendKafka:
		pub, err := kafkapublisher.New(cfg.Brokers)
		if err != nil {
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		a.track("kafka", pub.Close)
		return pub, nil
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.track("pubsub client", client.Close)
		pub := pubsubpublisher.New(client)
		a.track("pubsub topics", pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publish backend: %s", cfg.Backend)
	}
}

func (a *App) buildArchive(ctx context.Context) (news.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memoryarchive.New(), nil
	case config.BackendLocal:
		store, err := localarchive.New(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcsarchive.New(client, cfg.Bucket)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.track("gcs", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}

func (a *App) buildLocker(ctx context.Context) (news.Locker, error) {
	if a.cfg.Lock.RedisURL == "" {
		return nil, nil
	}
	locker, err := redislock.New(ctx, a.cfg.Lock.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("init redis lock: %w", err)
	}
	a.track("redis", locker.Close)
	return locker, nil
}

func (a *App) track(name string, closeFn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: closeFn})
}

// Close releases every service in reverse order of construction. It is safe
// to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
