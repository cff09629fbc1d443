// Package nutrition integrates a nutrition tracker API using OAuth2
// client credentials. Carb entries are fetched incrementally and
// mapped to normalized records.
package nutrition

import (
	"context"
	"net/http"
	"net/url"
	"time"

	stderrors "errors"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/glucosync/glucosync/pkg/clients"
	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/connector/registry"
	"github.com/glucosync/glucosync/pkg/errors"
	"github.com/glucosync/glucosync/pkg/metrics"
	"github.com/glucosync/glucosync/pkg/models"
)

// Kind is the provider kind used in configuration.
const Kind = "nutrition"

const (
	tokenPath   = "/oauth/token"
	entriesPath = "/api/v1/entries"
)

func init() {
	if err := registry.RegisterProvider(Kind, New); err != nil {
		panic(err)
	}
}

// Client talks to one nutrition tracker account.
type Client struct {
	name    string
	baseURL string
	oauth   *clientcredentials.Config
	http    *clients.HTTPClient
	logger  *zap.Logger
}

// New builds a nutrition client. Required credentials: client_id,
// client_secret.
func New(cfg config.ProviderConfig, logger *zap.Logger) (*registry.Provider, error) {
	clientID := cfg.Credentials["client_id"]
	clientSecret := cfg.Credentials["client_secret"]
	if clientID == "" || clientSecret == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "nutrition requires client_id and client_secret credentials")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "nutrition requires a base_url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = cfg.Timeouts.Request
	}

	c := &Client{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		oauth: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     cfg.BaseURL + tokenPath,
			Scopes:       []string{"entries:read"},
		},
		http:   clients.NewHTTPClient(httpCfg, logger),
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
	return &registry.Provider{Authenticator: c, Fetcher: c}, nil
}

// Acquire fetches an access token through the client-credentials grant.
func (c *Client) Acquire(ctx context.Context) (core.Session, error) {
	tok, err := c.oauth.Token(ctx)
	if err != nil {
		return core.Session{}, classifyTokenError(err)
	}
	return core.Session{
		Credential: core.Credential{Token: tok.AccessToken, ExpiresAt: tok.Expiry},
	}, nil
}

// classifyTokenError maps oauth2 retrieval errors onto the taxonomy.
// Invalid-client responses are credential failures; everything else is
// treated as transient.
func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if stderrors.As(err, &rerr) && rerr.Response != nil {
		status := rerr.Response.StatusCode
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return errors.Wrap(err, errors.ErrorTypeAuthentication, "oauth client rejected")
		}
		return errors.FromHTTPStatus(status, "token endpoint error")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "token retrieval failed")
}

type carbEntry struct {
	LoggedAt time.Time `json:"logged_at"`
	Carbs    float64   `json:"carbs_grams"`
	Meal     string    `json:"meal,omitempty"`
}

// FetchRecords fetches carb entries logged after since.
func (c *Client) FetchRecords(ctx context.Context, session core.Session, since time.Time) ([]models.GlucoseRecord, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("after", since.UTC().Format(time.RFC3339))
	}

	resp, err := c.http.Get(ctx, c.baseURL+entriesPath+"?"+q.Encode(), map[string]string{
		"Authorization": "Bearer " + session.Credential.Token,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "entries fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.FromHTTPStatus(resp.StatusCode, "entries fetch failed")
	}

	var entries []carbEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "unexpected entries payload")
	}

	records := make([]models.GlucoseRecord, 0, len(entries))
	for _, e := range entries {
		if e.LoggedAt.IsZero() || e.Carbs < 0 {
			c.logger.Warn("skipping unmappable carb entry",
				zap.Time("logged_at", e.LoggedAt), zap.Float64("carbs", e.Carbs))
			metrics.RecordsSkipped.WithLabelValues(c.name).Inc()
			continue
		}
		rec := models.NewGlucoseRecord(c.name, e.LoggedAt, e.Carbs, models.TrendNone)
		if e.Meal != "" {
			rec.Raw = map[string]any{"meal": e.Meal}
		}
		records = append(records, rec)
	}
	return records, nil
}
