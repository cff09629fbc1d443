package dexshare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/errors"
	"github.com/glucosync/glucosync/pkg/models"
)

func testConfig(baseURL string) config.ProviderConfig {
	cfg := config.NewProviderConfig("cgm-main", Kind)
	cfg.BaseURL = baseURL
	cfg.Credentials = map[string]string{
		"username":       "publisher",
		"password":       "hunter2",
		"application_id": "app-123",
	}
	return cfg
}

func newTestClient(t *testing.T, baseURL string) *Client {
	p, err := New(testConfig(baseURL), zaptest.NewLogger(t))
	require.NoError(t, err)
	return p.Authenticator.(*Client)
}

func fakeShareServer(t *testing.T, glucoseHandler http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(authenticatePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"account-uuid-1"`))
	})
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"session-uuid-1"`))
	})
	mux.HandleFunc(readGlucosePath, glucoseHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAcquireTwoStepLogin(t *testing.T) {
	var authCalls, loginCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(authenticatePath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`"account-uuid-1"`))
	})
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginCalls, 1)
		w.Write([]byte(`"session-uuid-1"`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	session, err := c.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "session-uuid-1", session.Credential.Token)
	assert.Equal(t, "account-uuid-1", session.ConnectionID)
	assert.False(t, session.Credential.ExpiresAt.IsZero())
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&loginCalls))
}

func TestAcquireRejectedCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(authenticatePath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccountPasswordInvalid", http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Acquire(context.Background())

	require.Error(t, err)
	// A rejected login is a credential failure, never session expiry.
	assert.True(t, errors.IsAuthFailure(err))
	assert.False(t, errors.IsSessionExpired(err))
}

func TestFetchRecordsMapsEntries(t *testing.T) {
	srv := fakeShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-uuid-1", r.URL.Query().Get("sessionId"))
		w.Write([]byte(`[
			{"WT":"/Date(1714500000000)/","Value":121,"Trend":"Flat"},
			{"WT":"/Date(1714500300000)/","Value":128,"Trend":"FortyFiveUp"}
		]`))
	})

	c := newTestClient(t, srv.URL)
	session, err := c.Acquire(context.Background())
	require.NoError(t, err)

	records, err := c.FetchRecords(context.Background(), session, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, time.UnixMilli(1714500000000).UTC(), records[0].Timestamp)
	assert.Equal(t, 121.0, records[0].Value)
	assert.Equal(t, models.TrendFlat, records[0].Trend)
	assert.Equal(t, models.TrendFortyFiveUp, records[1].Trend)
	assert.NotEmpty(t, records[0].ID)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestFetchRecordsSkipsMalformedRows(t *testing.T) {
	srv := fakeShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"WT":"garbage","Value":121,"Trend":"Flat"},
			{"WT":"/Date(1714500300000)/","Value":0,"Trend":"Flat"},
			{"WT":"/Date(1714500600000)/","Value":131,"Trend":"Flat"}
		]`))
	})

	c := newTestClient(t, srv.URL)
	session, err := c.Acquire(context.Background())
	require.NoError(t, err)

	records, err := c.FetchRecords(context.Background(), session, time.Time{})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, 131.0, records[0].Value)
}

func TestFetchRecordsExpiredSession(t *testing.T) {
	srv := fakeShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "SessionIdNotFound", http.StatusUnauthorized)
	})

	c := newTestClient(t, srv.URL)
	session, err := c.Acquire(context.Background())
	require.NoError(t, err)

	_, err = c.FetchRecords(context.Background(), session, time.Time{})
	require.Error(t, err)
	assert.True(t, errors.IsSessionExpired(err))
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := testConfig("https://share.example.com")
	cfg.Credentials = map[string]string{"username": "publisher"}

	_, err := New(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseShareTimestamp(t *testing.T) {
	ts, err := parseShareTimestamp("/Date(1714500000000-0500)/")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1714500000000).UTC(), ts)

	_, err = parseShareTimestamp("2024-04-30T12:00:00Z")
	require.Error(t, err)
}

func TestCheckHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(systemTimePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"/Date(1714500000000)/"`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	assert.NoError(t, c.CheckHealth(context.Background()))

	srv.Close()
	assert.Error(t, c.CheckHealth(context.Background()))
}

func TestWindowMinutes(t *testing.T) {
	assert.Equal(t, 24*60, windowMinutes(time.Time{}))
	assert.Equal(t, 24*60, windowMinutes(time.Now().Add(-48*time.Hour)))
	assert.LessOrEqual(t, windowMinutes(time.Now().Add(-10*time.Minute)), 12)
}
