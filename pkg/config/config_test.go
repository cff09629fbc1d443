package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadAppliesDefaultsAndEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DEX_PASSWORD", "hunter2")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: debug
providers:
  - name: dexshare-main
    kind: dexshare
    enabled: true
    sync_interval_minutes: 5
    credentials:
      username: alice@example.com
      password: ${TEST_DEX_PASSWORD}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	pc := cfg.Providers[0]
	assert.Equal(t, "hunter2", pc.Credentials["password"])
	assert.Equal(t, 5*time.Minute, pc.TokenBuffer)
	assert.Equal(t, 3, pc.Reliability.RetryAttempts)
	assert.Equal(t, 30*time.Second, pc.Timeouts.Request)
	assert.Equal(t, "memory", cfg.Sink.Kind)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadRejectsDuplicateProviderNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
providers:
  - name: dup
    kind: dexshare
  - name: dup
    kind: pumplog
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestProviderValidate(t *testing.T) {
	pc := NewProviderConfig("", "dexshare")
	assert.Error(t, pc.Validate())

	pc = NewProviderConfig("main", "")
	assert.Error(t, pc.Validate())

	pc = NewProviderConfig("main", "dexshare")
	assert.NoError(t, pc.Validate())

	pc.Reliability.RetryAttempts = 0
	assert.Error(t, pc.Validate())
}

func TestApplyOverlayTypedKeys(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pc := NewProviderConfig("main", "dexshare")
	pc.Enabled = true
	pc.SyncIntervalMinutes = 5

	err := ApplyOverlay(&pc, map[string]string{
		"enabled":               "false",
		"sync_interval_minutes": "15",
		"base_url":              "https://shareous1.example.com",
		"token_buffer":          "10m",
		"credential.password":   "rotated",
	}, logger)
	require.NoError(t, err)

	assert.False(t, pc.Enabled)
	assert.Equal(t, 15, pc.SyncIntervalMinutes)
	assert.Equal(t, "https://shareous1.example.com", pc.BaseURL)
	assert.Equal(t, 10*time.Minute, pc.TokenBuffer)
	assert.Equal(t, "rotated", pc.Credentials["password"])
}

func TestApplyOverlayRejectsUnknownKey(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pc := NewProviderConfig("main", "dexshare")

	err := ApplyOverlay(&pc, map[string]string{"sync_interval": "15"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized overlay key")
}

func TestApplyOverlayKeepsStaticValueOnBadParse(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pc := NewProviderConfig("main", "dexshare")
	pc.SyncIntervalMinutes = 5

	err := ApplyOverlay(&pc, map[string]string{"sync_interval_minutes": "soon"}, logger)
	require.NoError(t, err)
	assert.Equal(t, 5, pc.SyncIntervalMinutes)
}

func TestSyncInterval(t *testing.T) {
	pc := NewProviderConfig("main", "dexshare")
	pc.SyncIntervalMinutes = 7
	assert.Equal(t, 7*time.Minute, pc.SyncInterval())
}
