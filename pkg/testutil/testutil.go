// Package testutil provides testing utilities shared across packages.
package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/models"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// FastProviderConfig returns a provider configuration with delays and
// spacing collapsed so retry and rate limit paths run quickly in tests.
func FastProviderConfig(name, kind string) config.ProviderConfig {
	cfg := config.NewProviderConfig(name, kind)
	cfg.Reliability.RetryDelay = time.Millisecond
	cfg.Reliability.MaxRetryDelay = 10 * time.Millisecond
	cfg.RateLimit.RequestSpacing = 0
	cfg.RateLimit.PerSecond = 0
	return cfg
}

// Reading builds a glucose record at a unix second for test fixtures.
func Reading(source string, unixSec int64, value float64) models.GlucoseRecord {
	return models.NewGlucoseRecord(source, time.Unix(unixSec, 0).UTC(), value, models.TrendFlat)
}
