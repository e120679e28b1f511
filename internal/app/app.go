// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/api"
	"github.com/JakeFAU/scrape-ledger/internal/clock"
	"github.com/JakeFAU/scrape-ledger/internal/clock/system"
	"github.com/JakeFAU/scrape-ledger/internal/coerce"
	"github.com/JakeFAU/scrape-ledger/internal/config"
	"github.com/JakeFAU/scrape-ledger/internal/crawl"
	"github.com/JakeFAU/scrape-ledger/internal/frontier"
	"github.com/JakeFAU/scrape-ledger/internal/hash/sha256"
	"github.com/JakeFAU/scrape-ledger/internal/id/uuid"
	"github.com/JakeFAU/scrape-ledger/internal/metrics"
	"github.com/JakeFAU/scrape-ledger/internal/pipeline"
	"github.com/JakeFAU/scrape-ledger/internal/ratelimit"
	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/schemadef"
	"github.com/JakeFAU/scrape-ledger/internal/sites/steam"
	"github.com/JakeFAU/scrape-ledger/internal/storage/postgres"
	"github.com/JakeFAU/scrape-ledger/internal/storage/sqlite"
	"github.com/JakeFAU/scrape-ledger/internal/store"
	"github.com/JakeFAU/scrape-ledger/internal/upsert"
)

// Store is a backend serving both entity rows and the frontier.
type Store interface {
	store.EntityStore
	store.FrontierStore
	Close() error
}

// App holds all the shared, long-lived services for one configuration.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      Store
	clock      clock.Clock
	registry   *schema.Registry
	metrics    *metrics.Metrics
	engine     *upsert.Engine
	frontier   *frontier.Frontier
	transforms *pipeline.Transforms
	pipeline   *pipeline.Pipeline
	crawler    *crawl.Crawler
}

// Option adjusts how New builds the container.
type Option func(*options)

type options struct {
	store     Store
	transport http.RoundTripper
}

// WithStore uses st instead of opening the configured database. New takes
// ownership and closes it in Close.
func WithStore(st Store) Option {
	return func(o *options) { o.store = st }
}

// WithTransport replaces the crawler's HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New creates and initializes every service from cfg. It fails fast if any
// service cannot be built and releases whatever was opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger.Info("initializing application services", zap.String("driver", cfg.DB.Driver))

	a = &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(time.Second),
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil && a.store != nil {
			_ = a.store.Close()
		}
	}()

	if o.store != nil {
		a.store = o.store
	} else if a.store, err = openStore(ctx, cfg.DB, a.clock); err != nil {
		return nil, err
	}

	a.registry = schema.NewRegistry()
	ents, err := steam.Register(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register steam entities: %w", err)
	}
	if cfg.Schema.Path != "" {
		defs, err := schemadef.Load(cfg.Schema.Path)
		if err != nil {
			return nil, err
		}
		extra, err := defs.Register(a.registry)
		if err != nil {
			return nil, fmt.Errorf("register schema definitions: %w", err)
		}
		logger.Info("registered entity definitions",
			zap.String("path", cfg.Schema.Path),
			zap.Int("entities", len(extra)),
		)
	}

	mode := coerce.Lenient
	if cfg.Pipeline.Strict {
		mode = coerce.Strict
	}
	a.engine, err = upsert.New(a.store, logger,
		upsert.WithRegistry(a.registry),
		upsert.WithCoercionMode(mode),
		upsert.WithObserver(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("init upsert engine: %w", err)
	}

	a.frontier, err = frontier.New(a.store, sha256.New(), logger, frontier.WithObserver(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("init frontier: %w", err)
	}

	a.transforms = pipeline.NewTransforms()
	if err := steam.RegisterTransforms(a.transforms); err != nil {
		return nil, fmt.Errorf("register transforms: %w", err)
	}
	for entity, names := range cfg.Pipeline.Transforms {
		if _, ok := a.registry.Get(entity); !ok {
			return nil, schema.Configf(entity, "transforms configured for unknown entity")
		}
		if err := a.transforms.Enable(entity, names...); err != nil {
			return nil, fmt.Errorf("enable transforms: %w", err)
		}
	}
	a.pipeline, err = pipeline.New(a.engine, logger,
		pipeline.WithTransforms(a.transforms),
		pipeline.WithDedup(cfg.Pipeline.Dedup),
		pipeline.WithObserver(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	crawlCfg := cfg.CrawlerConfig()
	if len(crawlCfg.Seeds) == 0 && crawlCfg.CrawlName == steam.CrawlName {
		crawlCfg.Seeds = steam.Seeds()
	}
	base := o.transport
	if base == nil {
		base = crawl.NewTransport()
	}
	limited := &ratelimit.Transport{Base: base, Limiter: ratelimit.New(cfg.Crawl.RateLimit, a.metrics)}
	a.crawler, err = crawl.New(crawlCfg, a.frontier, a.pipeline, logger,
		crawl.WithObserver(a.metrics),
		crawl.WithTransport(limited),
	)
	if err != nil {
		return nil, fmt.Errorf("init crawler: %w", err)
	}
	steam.NewSite(ents, mode).Register(a.crawler)

	logger.Info("application services initialized",
		zap.Int("entities", len(a.registry.Ordered())),
		zap.Strings("tags", a.crawler.Tags()),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.DBConfig, clk clock.Clock) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.DSN, BusyTimeout: cfg.BusyTimeout}, clk)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Driver)
	}
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetConfig returns the configuration the container was built from.
func (a *App) GetConfig() config.Config { return a.cfg }

// Registry returns the entity registry.
func (a *App) Registry() *schema.Registry { return a.registry }

// Metrics returns the Prometheus collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Migrate creates every registered entity table and the frontier table.
func (a *App) Migrate(ctx context.Context) error {
	entities := a.registry.Ordered()
	if err := a.store.Migrate(ctx, entities); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated", zap.Int("entities", len(entities)))
	return nil
}

// Crawl starts a new run of the configured crawl and blocks until it ends.
func (a *App) Crawl(ctx context.Context) (crawl.Summary, *pipeline.RunContext, error) {
	run, err := pipeline.NewRun(a.cfg.Crawl.Name, uuid.New(), a.clock)
	if err != nil {
		return crawl.Summary{}, nil, fmt.Errorf("start run: %w", err)
	}
	summary, err := a.crawler.Run(ctx, run)
	return summary, run, err
}

// Pending lists at most limit frontier entries of crawl awaiting a fetch.
func (a *App) Pending(ctx context.Context, crawlName string, limit int) ([]store.FrontierEntry, error) {
	return a.frontier.List(ctx, crawlName, limit)
}

// Handler builds the admin HTTP handler.
func (a *App) Handler() http.Handler {
	return api.NewServer(
		a.registry,
		a.store,
		a.frontier,
		a.metrics,
		api.Config{APIKey: a.cfg.Server.APIKey},
		a.logger.Named("api"),
	).Handler()
}

// Close shuts down all services in the container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
	}
	// Sync fails on stderr-backed loggers on some platforms; there is nowhere
	// left to report it.
	_ = a.logger.Sync()
}
