// Package app assembles the signal engine from configuration. Both the
// daemon and the CLI build their components here.
package app

import (
	"context"
	"fmt"
	"time"

	"market-signal-engine-go/internal/backtest"
	"market-signal-engine-go/internal/cache"
	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/database"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/metrics"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/provider"
	"market-signal-engine-go/internal/scanner"
	"market-signal-engine-go/internal/scheduler"
	"market-signal-engine-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FlushInterval is how often key usage is written back to the store.
const FlushInterval = time.Minute

// App holds the wired components.
type App struct {
	Config   config.Config
	Clock    clock.Clock
	Store    *store.GormStore
	Pool     *keypool.Pool
	Gateway  *gateway.Gateway
	Scanner  *scanner.Scanner
	Backtest *backtest.Engine
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	db        *gorm.DB
	logger    *zap.Logger
	scheduler *scheduler.Scheduler
	flush     *scheduler.CancellationToken
}

// New connects the database, restores key usage and loads scanner state.
// The database is closed again if any later step fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	clk := clock.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if cerr := database.Close(db); cerr != nil {
				logger.Warn("Failed to close database", zap.Error(cerr))
			}
		}
	}()
	logger.Info("Database connection successful and schema migrated.")
	st := store.NewGormStore(db)

	creds := make([]models.ProviderCredential, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		creds = append(creds, models.ProviderCredential{
			ID:           k.ID,
			ProviderName: k.Provider,
			Secret:       k.Secret,
			DailyLimit:   k.DailyLimit,
		})
	}
	pool, err := keypool.NewPool(creds, logger,
		keypool.WithClock(clk), keypool.WithStore(st), keypool.WithMetrics(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to build key pool: %w", err)
	}
	if err := pool.Restore(ctx); err != nil {
		return nil, err
	}

	providers := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := provider.New(pc, clk, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	quotes, err := cache.New(cfg.Cache, clk, logger)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(providers, pool, logger.Named("gateway"),
		gateway.WithCache(quotes),
		gateway.WithRateLimit(cfg.Gateway.RateLimit, cfg.Gateway.RateLimitBurst),
		gateway.WithMetrics(rec),
	)
	if err != nil {
		return nil, err
	}

	sc, err := scanner.New(cfg.Scanner, gw, st, logger, scanner.WithClock(clk), scanner.WithMetrics(rec))
	if err != nil {
		return nil, err
	}
	if err := sc.Load(ctx); err != nil {
		return nil, err
	}

	engine, err := backtest.NewEngine(gw, cfg.Backtest, logger, rec)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Clock:     clk,
		Store:     st,
		Pool:      pool,
		Gateway:   gw,
		Scanner:   sc,
		Backtest:  engine,
		Registry:  reg,
		Metrics:   rec,
		db:        db,
		logger:    logger,
		scheduler: scheduler.New(clk, logger),
	}, nil
}

// Start begins periodic scanning and key usage flushing.
func (a *App) Start(ctx context.Context) error {
	token, err := a.scheduler.Schedule(ctx, FlushInterval, func(ctx context.Context) {
		if err := a.Pool.Flush(ctx); err != nil {
			a.logger.Error("Failed to flush key usage", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	a.flush = token
	return a.Scanner.Start(ctx)
}

// Close stops background work, persists key usage one last time and closes
// the database.
func (a *App) Close(ctx context.Context) error {
	a.Scanner.Stop()
	if a.flush != nil {
		a.flush.Cancel()
		a.flush.Wait()
	}
	return multierr.Append(a.Pool.Flush(ctx), database.Close(a.db))
}
