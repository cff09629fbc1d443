package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	mr := miniredis.RunT(t)

	s, err := New(context.Background(), Config{Addr: mr.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMissingProviderReturnsEmpty(t *testing.T) {
	s := newTestStore(t)

	values, err := s.Load(context.Background(), "cgm-main")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestSaveAndLoadSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "cgm-main", map[string]string{
		"enabled":               "false",
		"sync_interval_minutes": "15",
	}))

	values, err := s.Load(ctx, "cgm-main")
	require.NoError(t, err)
	assert.Equal(t, "false", values["enabled"])
	assert.Equal(t, "15", values["sync_interval_minutes"])
}

func TestSaveMergesKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "cgm-main", map[string]string{"enabled": "true"}))
	require.NoError(t, s.Save(ctx, "cgm-main", map[string]string{"base_url": "https://alt.example.com"}))

	values, err := s.Load(ctx, "cgm-main")
	require.NoError(t, err)
	assert.Equal(t, "true", values["enabled"])
	assert.Equal(t, "https://alt.example.com", values["base_url"])
}

func TestSettingsAreScopedPerProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "cgm-main", map[string]string{"enabled": "false"}))

	values, err := s.Load(ctx, "pump-main")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wm, err := s.LoadWatermark(ctx, "cgm-main")
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	ts := time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC)
	require.NoError(t, s.SaveWatermark(ctx, "cgm-main", ts))

	wm, err = s.LoadWatermark(ctx, "cgm-main")
	require.NoError(t, err)
	assert.True(t, ts.Equal(wm))
}

func TestCorruptWatermarkIsAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("glucosync:watermark:cgm-main", "not-a-timestamp"))

	s, err := New(context.Background(), Config{Addr: mr.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadWatermark(context.Background(), "cgm-main")
	assert.Error(t, err)
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
