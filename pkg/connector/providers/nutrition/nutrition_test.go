package nutrition

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/errors"
	"github.com/glucosync/glucosync/pkg/models"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	cfg := config.NewProviderConfig("carbs-main", Kind)
	cfg.BaseURL = baseURL
	cfg.Credentials = map[string]string{
		"client_id":     "glucosync",
		"client_secret": "shhh",
	}
	p, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p.Fetcher.(*Client)
}

func TestAcquireClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		id, secret, ok := r.BasicAuth()
		if !ok {
			id = r.FormValue("client_id")
			secret = r.FormValue("client_secret")
		}
		assert.Equal(t, "glucosync", id)
		assert.Equal(t, "shhh", secret)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	session, err := c.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "at-1", session.Credential.Token)
	assert.False(t, session.Credential.ExpiresAt.IsZero())
}

func TestAcquireRejectedClientIsAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Acquire(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsAuthFailure(err))
}

func TestFetchRecordsMapsCarbEntries(t *testing.T) {
	logged := time.Date(2026, 8, 1, 8, 30, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc(entriesPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]carbEntry{
			{LoggedAt: logged, Carbs: 45, Meal: "breakfast"},
			{Carbs: 20}, // missing timestamp, skipped
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	session := core.Session{Credential: core.Credential{Token: "at-1"}}

	records, err := c.FetchRecords(context.Background(), session, time.Time{})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, 45.0, records[0].Value)
	assert.Equal(t, models.TrendNone, records[0].Trend)
	assert.Equal(t, "breakfast", records[0].Raw["meal"])
}

func TestFetchRecordsRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(entriesPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchRecords(context.Background(), core.Session{}, time.Time{})

	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}
