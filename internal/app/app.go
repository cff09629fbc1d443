// Package app assembles the running service: one supervised scheduler
// per enabled provider, the shared sink and settings store, and the
// status surface.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/glucosync/glucosync/internal/api"
	"github.com/glucosync/glucosync/internal/store"
	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/base"
	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/connector/registry"
	"github.com/glucosync/glucosync/pkg/scheduler"
	"github.com/glucosync/glucosync/pkg/sink"
)

// App owns the lifecycle of every provider scheduler plus the shared
// infrastructure.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	sink       core.Sink
	schedulers []*scheduler.Scheduler
	server     *api.Server
}

// New builds the application from validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if cfg.Store.Enabled && cfg.Store.Addr != "" {
		st, err := store.New(ctx, store.Config{
			Addr:     cfg.Store.Addr,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
		}, logger)
		if err != nil {
			// Settings and positions degrade to static config; the
			// service still runs.
			logger.Warn("settings store unavailable", zap.Error(err))
		} else {
			a.store = st
		}
	}

	if cfg.Sink.Kind == "clickhouse" {
		chSink, err := sink.NewClickHouseSink(sink.ClickHouseConfig{
			DSN:          cfg.Sink.DSN,
			Database:     cfg.Sink.Database,
			Table:        cfg.Sink.Table,
			CreateTables: cfg.Sink.CreateTables,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.sink = chSink
	} else {
		logger.Warn("no durable sink configured, records are buffered in memory")
		a.sink = sink.NewMemorySink()
	}

	for _, pc := range cfg.Providers {
		pc.ApplyDefaults()

		provider, err := registry.Create(pc.Kind, pc, logger)
		if err != nil {
			return nil, err
		}

		conn := base.NewConnector(pc, provider.Authenticator, provider.Fetcher, a.sink, logger)

		var ss scheduler.SettingsStore
		if a.store != nil {
			ss = a.store
		}
		a.schedulers = append(a.schedulers, scheduler.New(pc, conn, ss, logger))
	}

	if cfg.API.Enabled && cfg.API.Addr != "" {
		a.server = api.NewServer(cfg.API.Addr, a, logger)
	}

	return a, nil
}

// Start launches every provider scheduler and the status server.
func (a *App) Start(ctx context.Context) {
	started := 0
	for _, s := range a.schedulers {
		if s.Start(ctx) {
			started++
		}
	}
	a.logger.Info("providers started",
		zap.Int("running", started),
		zap.Int("configured", len(a.schedulers)))

	if a.server != nil {
		a.server.Start()
	}
}

// Stop shuts everything down in dependency order: schedulers first so
// no cycle is mid-flight when the sink and store close.
func (a *App) Stop(ctx context.Context) {
	for _, s := range a.schedulers {
		s.Stop()
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}

	if err := a.sink.Close(); err != nil {
		a.logger.Warn("sink close failed", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("settings store close failed", zap.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
}

// ProviderStatuses implements the status surface.
func (a *App) ProviderStatuses() []core.HealthStatus {
	statuses := make([]core.HealthStatus, 0, len(a.schedulers))
	for _, s := range a.schedulers {
		statuses = append(statuses, s.Connector().Status())
	}
	return statuses
}
