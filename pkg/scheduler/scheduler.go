// Package scheduler runs the periodic sync loop for each provider.
// Every provider gets its own goroutine, supervised so a crashed loop
// is restarted with backoff instead of silently dying.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/base"
	"github.com/glucosync/glucosync/pkg/logger"
	"github.com/glucosync/glucosync/pkg/metrics"
)

// SettingsStore supplies the persisted runtime overlay and sync
// positions. Implemented by internal/store; nil disables both.
type SettingsStore interface {
	Load(ctx context.Context, provider string) (map[string]string, error)
	LoadWatermark(ctx context.Context, provider string) (time.Time, error)
	SaveWatermark(ctx context.Context, provider string, watermark time.Time) error
}

const (
	initialRestartBackoff = 5 * time.Second
	maxRestartBackoff     = 5 * time.Minute

	// stableRunThreshold is how long a loop must run before a crash
	// resets the restart backoff to its initial value.
	stableRunThreshold = 10 * time.Minute
)

// Scheduler drives one provider's sync loop.
type Scheduler struct {
	cfg       config.ProviderConfig
	connector *base.Connector
	store     SettingsStore
	logger    *zap.Logger

	// loop and restartBackoff are fields so the supervision path can
	// be driven directly in tests.
	loop           func(ctx context.Context, interval time.Duration) bool
	restartBackoff time.Duration

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

// New creates a scheduler for one provider. The static configuration
// is copied; the runtime overlay is resolved on Start.
func New(cfg config.ProviderConfig, connector *base.Connector, store SettingsStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:            cfg,
		connector:      connector,
		store:          store,
		logger:         logger.With(zap.String("provider", cfg.Name)),
		restartBackoff: initialRestartBackoff,
		done:           make(chan struct{}),
	}
	s.loop = s.runLoop
	return s
}

// Start resolves the effective configuration and launches the
// supervised loop. When the resolved configuration disables the
// provider or sets a non-positive interval, no loop is started and
// Start returns false.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return true
	}

	cfg := s.resolveConfig(ctx)
	if !cfg.Enabled || cfg.SyncIntervalMinutes <= 0 {
		s.logger.Info("provider disabled, sync loop not started",
			zap.Bool("enabled", cfg.Enabled),
			zap.Int("sync_interval_minutes", cfg.SyncIntervalMinutes))
		close(s.done)
		return false
	}

	s.seedWatermark(ctx)

	// Connectivity preflight; a failure is informational, the loop's
	// own retry and health tracking handle a provider that stays down.
	if err := s.connector.CheckProvider(ctx); err != nil {
		s.logger.Warn("provider reachability check failed", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	go s.supervise(loopCtx, cfg.SyncInterval())

	s.logger.Info("sync loop started", zap.Duration("interval", cfg.SyncInterval()))
	return true
}

// resolveConfig overlays persisted settings on the static config. A
// store failure falls back to the static values.
func (s *Scheduler) resolveConfig(ctx context.Context) config.ProviderConfig {
	cfg := s.cfg

	if s.store == nil {
		return cfg
	}

	values, err := s.store.Load(ctx, cfg.Name)
	if err != nil {
		s.logger.Warn("settings store unavailable, using static configuration", zap.Error(err))
		return cfg
	}
	if len(values) == 0 {
		return cfg
	}

	if err := config.ApplyOverlay(&cfg, values, s.logger); err != nil {
		s.logger.Warn("invalid settings overlay, using static configuration", zap.Error(err))
		return s.cfg
	}
	return cfg
}

// seedWatermark restores the persisted sync position so a restart does
// not re-fetch the full backfill window.
func (s *Scheduler) seedWatermark(ctx context.Context) {
	if s.store == nil {
		return
	}
	wm, err := s.store.LoadWatermark(ctx, s.cfg.Name)
	if err != nil {
		s.logger.Warn("failed to load persisted watermark", zap.Error(err))
		return
	}
	if !wm.IsZero() {
		s.connector.SetWatermark(wm)
		s.logger.Info("watermark restored", zap.Time("watermark", wm))
	}
}

// supervise keeps the loop alive, restarting after a crash with
// doubling backoff. The backoff resets once a run survives long enough
// to be considered stable.
func (s *Scheduler) supervise(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	backoff := s.restartBackoff

	for {
		started := time.Now()
		crashed := s.loop(ctx, interval)
		if !crashed {
			return
		}

		if time.Since(started) >= stableRunThreshold {
			backoff = s.restartBackoff
		}

		metrics.SchedulerRestarts.WithLabelValues(s.cfg.Name).Inc()
		s.logger.Error("sync loop crashed, restarting", zap.Duration("backoff", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxRestartBackoff {
			backoff = maxRestartBackoff
		}
	}
}

// runLoop runs sync ticks until cancellation. It returns true when the
// loop terminated due to a panic escaping the tick boundary, which
// should never happen but must not kill the provider permanently.
func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync loop panic", zap.Any("panic", r))
			crashed = true
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopping")
			return false
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick runs one sync cycle inside its own failure boundary so a
// single bad cycle never takes the loop down. The cycle is tagged on
// the context so downstream log lines correlate.
func (s *Scheduler) runTick(ctx context.Context) {
	ctx = context.WithValue(ctx, logger.ProviderKey, s.cfg.Name)
	ctx = context.WithValue(ctx, logger.CycleIDKey, uuid.NewString())
	log := logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("sync cycle panic", zap.Any("panic", r),
				zap.String("detail", fmt.Sprintf("%v", r)))
			metrics.SyncErrors.WithLabelValues(s.cfg.Name).Inc()
		}
	}()

	if ctx.Err() != nil {
		return
	}

	log.Debug("sync cycle starting")
	ok := s.connector.Sync(ctx)
	if ok {
		s.persistWatermark(ctx)
	}
}

func (s *Scheduler) persistWatermark(ctx context.Context) {
	if s.store == nil {
		return
	}
	wm := s.connector.Watermark()
	if wm.IsZero() {
		return
	}
	if err := s.store.SaveWatermark(ctx, s.cfg.Name, wm); err != nil {
		s.logger.Warn("failed to persist watermark", zap.Error(err))
	}
}

// Stop cancels the loop and blocks until it has exited. Safe to call
// on a scheduler that never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		// Loop never started; nothing to wait for.
		return
	}
	cancel()
	<-s.done
}

// Connector exposes the underlying connector for the status surface.
func (s *Scheduler) Connector() *base.Connector { return s.connector }

// Running reports whether the loop was started and has not finished.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
