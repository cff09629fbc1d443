package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/clients"
	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/errors"
	"github.com/glucosync/glucosync/pkg/metrics"
	"github.com/glucosync/glucosync/pkg/models"
)

// Connector wraps one provider integration with the shared runtime:
// token caching, rate limiting, retry with session recovery, circuit
// breaking and health tracking. All state (credential, watermark,
// failure streak) belongs to this instance; providers stay stateless
// beyond their own payload handling.
type Connector struct {
	name   string
	logger *zap.Logger

	fetcher  core.Fetcher
	reporter core.HealthReporter
	tokens   *TokenCache
	limiter  clients.RateLimiter
	retry    *RetryPolicy
	breaker  *clients.CircuitBreaker
	health   *healthTracker
	sink     core.Sink

	mu        sync.RWMutex
	watermark time.Time
	lastSync  time.Time
}

// NewConnector builds a connector for a provider implementation from
// its resolved configuration. The fetcher and authenticator come from
// the provider; everything else is shared runtime.
func NewConnector(cfg config.ProviderConfig, auth core.Authenticator, fetcher core.Fetcher, sink core.Sink, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", cfg.Name))

	retry := &RetryPolicy{
		MaxAttempts:     cfg.Reliability.RetryAttempts,
		InitialDelay:    cfg.Reliability.RetryDelay,
		MaxDelay:        cfg.Reliability.MaxRetryDelay,
		Multiplier:      cfg.Reliability.RetryMultiplier,
		RandomizeFactor: 0.25,
	}

	// Providers may optionally report their own reachability.
	reporter, _ := fetcher.(core.HealthReporter)

	return &Connector{
		name:     cfg.Name,
		logger:   logger,
		fetcher:  fetcher,
		reporter: reporter,
		tokens:   NewTokenCache(auth, retry.Clone(), cfg.TokenBuffer, logger),
		limiter:  clients.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, cfg.RateLimit.RequestSpacing),
		retry:    retry,
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			FailureThreshold: cfg.Reliability.FailureThreshold * 2,
			SuccessThreshold: 1,
			Timeout:          cfg.SyncInterval(),
		}, logger),
		health: newHealthTracker(cfg.Reliability.FailureThreshold),
		sink:   sink,
	}
}

// Name returns the provider name this connector serves.
func (c *Connector) Name() string { return c.name }

// Authenticate obtains a valid session token, acquiring one if the
// cache is cold or stale. Returns true on success; a failure counts
// against the connector's health.
func (c *Connector) Authenticate(ctx context.Context) bool {
	_, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		if errors.IsCancelled(err) {
			c.logger.Debug("authentication interrupted by shutdown")
			return false
		}
		c.health.recordFailure()
		metrics.TokenAcquisitions.WithLabelValues(c.name, "failure").Inc()
		c.logger.Error("authentication failed", zap.Error(err))
		return false
	}

	metrics.TokenAcquisitions.WithLabelValues(c.name, "success").Inc()
	return true
}

// FetchSince fetches records strictly newer than since, normalized and
// sorted ascending. Unrecoverable failures are logged and counted; the
// result is then an empty slice, never a panic or propagated error.
func (c *Connector) FetchSince(ctx context.Context, since time.Time) []models.GlucoseRecord {
	records, err := c.fetchSince(ctx, since)
	if err != nil {
		if errors.IsCancelled(err) {
			c.logger.Debug("fetch interrupted by shutdown")
			return nil
		}
		c.health.recordFailure()
		c.logger.Error("fetch failed", zap.Time("since", since), zap.Error(err))
		return []models.GlucoseRecord{}
	}

	c.health.recordSuccess()
	return records
}

func (c *Connector) fetchSince(ctx context.Context, since time.Time) ([]models.GlucoseRecord, error) {
	var fetched []models.GlucoseRecord
	attempt := 0

	err := c.retry.ExecuteWithAuthRecovery(ctx, func() error {
		if err := c.limiter.ApplyDelay(ctx, attempt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "rate limit wait interrupted")
		}
		attempt++

		session, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return err
		}

		return c.breaker.Execute(func() error {
			rows, err := c.fetcher.FetchRecords(ctx, session, since)
			if err != nil {
				return err
			}
			fetched = rows
			return nil
		})
	}, func(ctx context.Context) error {
		// Expired session: drop the cached token and log in again
		// before retrying the same request.
		c.logger.Info("session expired, re-authenticating")
		c.tokens.Invalidate()
		_, err := c.tokens.GetValidToken(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := models.FilterAfter(fetched, since)
	models.SortAscending(out)
	return out, nil
}

// Sync runs one full cycle: fetch from the current watermark, emit to
// the sink, advance the watermark to the newest emitted timestamp.
// Returns whether the cycle succeeded end to end.
func (c *Connector) Sync(ctx context.Context) bool {
	start := time.Now()
	metrics.SyncCycles.WithLabelValues(c.name).Inc()

	c.mu.RLock()
	since := c.watermark
	c.mu.RUnlock()

	records, err := c.fetchSince(ctx, since)

	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()

	if err != nil {
		if errors.IsCancelled(err) {
			c.logger.Debug("sync interrupted by shutdown")
			return false
		}
		c.health.recordFailure()
		metrics.SyncErrors.WithLabelValues(c.name).Inc()
		c.logger.Error("sync fetch failed", zap.Time("since", since), zap.Error(err))
		return false
	}

	if len(records) > 0 && c.sink != nil {
		if err := c.sink.Emit(ctx, records); err != nil {
			c.health.recordFailure()
			metrics.SyncErrors.WithLabelValues(c.name).Inc()
			c.logger.Error("sink emit failed", zap.Int("records", len(records)), zap.Error(err))
			return false
		}
	}

	// The streak resets only once the cycle has succeeded end to end;
	// a cycle that fetches but cannot persist still counts against it.
	c.health.recordSuccess()

	if last := models.Latest(records); last.After(since) {
		c.mu.Lock()
		c.watermark = last
		c.mu.Unlock()
	}

	metrics.RecordsSynced.WithLabelValues(c.name).Add(float64(len(records)))
	metrics.SyncDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	c.logger.Info("sync cycle complete",
		zap.Int("records", len(records)),
		zap.Time("watermark", c.Watermark()),
		zap.Duration("elapsed", time.Since(start)))
	return true
}

// IsHealthy reports whether the consecutive-failure streak is below
// the configured threshold.
func (c *Connector) IsHealthy() bool { return c.health.healthy() }

// FailedRequestCount returns the lifetime failed request counter.
func (c *Connector) FailedRequestCount() int64 { return c.health.failedRequestCount() }

// InvalidateToken drops the cached credential so the next operation
// re-authenticates. Exposed for external health-driven recovery.
func (c *Connector) InvalidateToken() { c.tokens.Invalidate() }

// CheckProvider runs the provider's own reachability check when it
// implements one. Providers without the capability report nil.
func (c *Connector) CheckProvider(ctx context.Context) error {
	if c.reporter == nil {
		return nil
	}
	return c.reporter.CheckHealth(ctx)
}

// Watermark returns the newest emitted record timestamp.
func (c *Connector) Watermark() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watermark
}

// SetWatermark seeds the watermark, typically from a persisted
// position at startup. It never moves the watermark backwards.
func (c *Connector) SetWatermark(t time.Time) {
	c.mu.Lock()
	if t.After(c.watermark) {
		c.watermark = t
	}
	c.mu.Unlock()
}

// Status returns a snapshot for the health surface.
func (c *Connector) Status() core.HealthStatus {
	c.mu.RLock()
	lastSync := c.lastSync
	watermark := c.watermark
	c.mu.RUnlock()

	return core.HealthStatus{
		Provider:            c.name,
		Healthy:             c.health.healthy(),
		ConsecutiveFailures: c.health.consecutiveFailures(),
		FailedRequests:      c.health.failedRequestCount(),
		LastSuccess:         c.health.lastSuccessTime(),
		LastSync:            lastSync,
		Watermark:           watermark,
	}
}
