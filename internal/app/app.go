// Package app holds the long-lived services shared by the CLI commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/catalog"
	"github.com/JakeFAU/harmony-crawler/internal/config"
	"github.com/JakeFAU/harmony-crawler/internal/crawler"
	"github.com/JakeFAU/harmony-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/harmony-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/harmony-crawler/internal/progress"
	"github.com/JakeFAU/harmony-crawler/internal/robots"
	"github.com/JakeFAU/harmony-crawler/internal/storage"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

// App owns the configuration, logger and store for one process.
// It is built once at startup and closed when the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  store.Store
}

// New opens the configured store and returns the container.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	logger.Info("opening store", zap.String("driver", cfg.Store.Driver))
	st, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return NewWithStore(cfg, st, logger), nil
}

// NewWithStore wraps an already opened store.
func NewWithStore(cfg config.Config, st store.Store, logger *zap.Logger) *App {
	return &App{cfg: cfg, logger: logging.OrNop(logger), store: st}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the opened store.
func (a *App) Store() store.Store {
	return a.store
}

// NewEngine wires the politeness gate, fetcher, parsers and store into a
// crawl engine. emitter and pauser may be nil.
func (a *App) NewEngine(emitter progress.Emitter, pauser crawler.Pauser) (*crawler.Engine, error) {
	c := a.cfg.Crawler
	gate, err := robots.New(robots.Config{
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
		CacheTTL:  c.RobotsCacheTTL,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init robots gate: %w", err)
	}
	a.logger.Info("robots policy", zap.String("url", gate.RobotsURL()), zap.Float64("rps", c.RequestsPerSecond))
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: c.UserAgent,
		Timeout:   c.RequestTimeout,
		Limiter:   ratelimit.New(ratelimit.Config{RPS: c.RequestsPerSecond}),
	}, a.logger)

	return crawler.New(crawler.Config{
		BaseURL:        c.BaseURL,
		WikiPath:       c.WikiPath,
		CategoryPrefix: c.CategoryPrefix,
		ComposersPage:  c.ComposersPage,
		ExcludeNames:   c.ExcludeNames,
	}, crawler.Deps{
		Gate:      gate,
		Fetcher:   fetcher,
		Parser:    catalog.NewParser(catalog.DefaultMarker),
		Extractor: extract.New(),
		Store:     a.store,
		Emitter:   emitter,
		Pauser:    pauser,
	}, a.logger)
}

// Close releases the store and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
	}
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
