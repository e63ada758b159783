// Package app assembles configuration, adapters, and use cases into a
// runnable process.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/credentials"
	"ContentPipeline/internal/discovery"
	"ContentPipeline/internal/dispatch"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/events"
	"ContentPipeline/internal/infrastructure/ai"
	"ContentPipeline/internal/infrastructure/publish"
	"ContentPipeline/internal/infrastructure/scheduler"
	"ContentPipeline/internal/infrastructure/transport"
	"ContentPipeline/internal/logging"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
	"ContentPipeline/internal/queue"
	"ContentPipeline/internal/usecase"
)

// Application owns the wired pipeline and its lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	pipeline *usecase.Pipeline
	runner   *usecase.Runner
}

// New builds the full object graph. An empty database DSN selects the
// in-memory queue and credential stores.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	sink := events.NewLogSink(baseLogger)

	var (
		db        *sql.DB
		workQueue ports.WorkQueue
		store     ports.CredentialStore
	)

	queueOpts := queue.Options{
		MaxRetries:  cfg.Dispatch.MaxRetries,
		BackoffBase: cfg.Dispatch.RetryBackoffBase.Std(),
	}

	if cfg.Database.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		pgQueue := queue.NewPostgresQueue(db, queueOpts)
		if err := pgQueue.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure queue schema: %w", err)
		}

		pgStore := credentials.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure credentials schema: %w", err)
		}
		if err := pgStore.Seed(ctx, seedCredentials(cfg.Credentials)); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed credentials: %w", err)
		}

		workQueue = pgQueue
		store = pgStore
	} else {
		baseLogger.Warn("no database dsn configured, using in-memory stores")
		workQueue = queue.NewMemoryQueue(queueOpts)
		memStore := credentials.NewMemoryStore()
		memStore.Seed(seedCredentials(cfg.Credentials))
		store = memStore
	}

	pool := credentials.NewPool(store, sink, baseLogger.With("component", "credentials"), cfg.Dispatch.SuspendThreshold)

	fetcher := transport.NewClient(nil,
		cfg.Transport.FetchTimeout.Std(),
		cfg.Transport.PerHostInterval.Std(),
		cfg.Transport.UserAgent)

	normalizer := normalize.New(baseLogger.With("component", "normalize"))

	registry := discovery.NewRegistry()
	registry.Register(discovery.NewFeedDiscoverer(fetcher, normalizer, baseLogger.With("component", "discovery.feed")))
	registry.Register(discovery.NewSitemapDiscoverer(fetcher, normalizer, baseLogger.With("component", "discovery.sitemap")))
	registry.Register(discovery.NewScrapeDiscoverer(fetcher, normalizer, baseLogger.With("component", "discovery.scrape")))
	registry.Register(discovery.NewSearchDiscoverer(fetcher, normalizer, baseLogger.With("component", "discovery.search")))
	registry.Register(discovery.NewVideoDiscoverer(fetcher, normalizer, baseLogger.With("component", "discovery.video")))
	registry.Register(discovery.NewMarketplaceDiscoverer(fetcher, normalizer, baseLogger.With("component", "discovery.marketplace")))

	transformer := ai.NewClient(cfg.Providers, &http.Client{Timeout: cfg.Dispatch.CallTimeout.Std()})
	publisher := publish.NewClient(cfg.Publishing.TargetURL, cfg.Publishing.AuthToken)

	orchestrator := dispatch.NewOrchestrator(dispatch.Deps{
		Queue:       workQueue,
		Pool:        pool,
		Transformer: transformer,
		Publisher:   publisher,
		Events:      sink,
		Logger:      baseLogger.With("component", "dispatch"),
		Dispatch:    cfg.Dispatch,
		Campaigns:   cfg.Campaigns,
		Providers:   cfg.Providers,
	})

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Registry:     registry,
		Queue:        workQueue,
		Orchestrator: orchestrator,
		Events:       sink,
		Logger:       baseLogger.With("component", "pipeline"),
		Campaigns:    cfg.Campaigns,
	})

	runner := usecase.NewRunner(
		scheduler.NewTicker(cfg.Scheduler.DiscoveryInterval.Std(), cfg.Scheduler.Location()),
		scheduler.NewTicker(cfg.Scheduler.DispatchInterval.Std(), cfg.Scheduler.Location()),
		pipeline,
		baseLogger.With("component", "runner"))

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		pipeline: pipeline,
		runner:   runner,
	}, nil
}

// Run starts the periodic cycles and blocks until the context is canceled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.runner.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	<-ctx.Done()
	return a.Close()
}

// RunOnce executes a single discovery cycle followed by a single dispatch
// cycle, for one-shot invocations.
func (a *Application) RunOnce(ctx context.Context) error {
	if _, err := a.pipeline.RunDiscovery(ctx); err != nil {
		return fmt.Errorf("discovery cycle: %w", err)
	}
	if _, err := a.pipeline.RunDispatch(ctx); err != nil {
		return fmt.Errorf("dispatch cycle: %w", err)
	}
	return nil
}

// Close stops the runner and releases held resources.
func (a *Application) Close() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.runner.Stop(stopCtx); err != nil {
		a.logger.Error("runner stop failed", "error", err)
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func seedCredentials(configs []config.CredentialConfig) []domain.Credential {
	creds := make([]domain.Credential, 0, len(configs))
	for _, c := range configs {
		creds = append(creds, domain.Credential{
			CredentialID:   c.ID,
			Provider:       c.Provider,
			KeyMaterial:    c.Key,
			PerMinuteLimit: c.PerMinuteLimit,
			PerDayLimit:    c.PerDayLimit,
			Priority:       c.Priority,
			Status:         domain.CredentialActive,
		})
	}
	return creds
}
