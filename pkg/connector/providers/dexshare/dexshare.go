// Package dexshare integrates a share-style CGM cloud API: a two-step
// login (account lookup, then session login) followed by polling the
// latest glucose values endpoint.
package dexshare

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/clients"
	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/connector/registry"
	"github.com/glucosync/glucosync/pkg/errors"
	"github.com/glucosync/glucosync/pkg/metrics"
	"github.com/glucosync/glucosync/pkg/models"
)

const (
	// Kind is the provider kind used in configuration.
	Kind = "dexshare"

	authenticatePath = "/ShareWebServices/Services/General/AuthenticatePublisherAccount"
	loginPath        = "/ShareWebServices/Services/General/LoginPublisherAccountById"
	readGlucosePath  = "/ShareWebServices/Services/Publisher/ReadPublisherLatestGlucoseValues"
	systemTimePath   = "/ShareWebServices/Services/General/SystemUtcTime"

	// sessionTTL is how long a share session stays valid. The API does
	// not report an expiry; sessions observed in practice live about a
	// day, so refresh well before that.
	sessionTTL = 6 * time.Hour

	// maxCount caps how many readings one poll requests. At one
	// reading per five minutes this covers a full day of backfill.
	maxCount = 288
)

func init() {
	if err := registry.RegisterProvider(Kind, New); err != nil {
		panic(err)
	}
}

// Client talks to one share account. It implements the Authenticator
// and Fetcher capabilities.
type Client struct {
	name          string
	baseURL       string
	applicationID string
	username      string
	password      string
	http          *clients.HTTPClient
	logger        *zap.Logger
}

// New builds a share client from provider configuration. Required
// credentials: username, password, application_id.
func New(cfg config.ProviderConfig, logger *zap.Logger) (*registry.Provider, error) {
	username := cfg.Credentials["username"]
	password := cfg.Credentials["password"]
	appID := cfg.Credentials["application_id"]
	if username == "" || password == "" || appID == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dexshare requires username, password and application_id credentials")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dexshare requires a base_url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = cfg.Timeouts.Request
	}
	if cfg.Timeouts.Connection > 0 {
		httpCfg.DialTimeout = cfg.Timeouts.Connection
	}

	c := &Client{
		name:          cfg.Name,
		baseURL:       cfg.BaseURL,
		applicationID: appID,
		username:      username,
		password:      password,
		http:          clients.NewHTTPClient(httpCfg, logger),
		logger:        logger.With(zap.String("provider", cfg.Name)),
	}
	return &registry.Provider{Authenticator: c, Fetcher: c}, nil
}

// Acquire runs the two-step login: resolve the account id from the
// publisher credentials, then open a session for that account. The
// account id doubles as the connection id.
func (c *Client) Acquire(ctx context.Context) (core.Session, error) {
	accountID, err := c.authenticateAccount(ctx)
	if err != nil {
		return core.Session{}, err
	}

	sessionID, err := c.loginAccount(ctx, accountID)
	if err != nil {
		return core.Session{}, err
	}

	c.logger.Debug("share session opened", zap.String("account_id", accountID))
	return core.Session{
		Credential:   core.Credential{Token: sessionID, ExpiresAt: time.Now().Add(sessionTTL)},
		ConnectionID: accountID,
	}, nil
}

func (c *Client) authenticateAccount(ctx context.Context) (string, error) {
	payload := map[string]string{
		"accountName":   c.username,
		"password":      c.password,
		"applicationId": c.applicationID,
	}
	return c.postForToken(ctx, authenticatePath, payload, true)
}

func (c *Client) loginAccount(ctx context.Context, accountID string) (string, error) {
	payload := map[string]string{
		"accountId":     accountID,
		"password":      c.password,
		"applicationId": c.applicationID,
	}
	return c.postForToken(ctx, loginPath, payload, true)
}

// postForToken posts a JSON payload and decodes the quoted string the
// share API returns for both login steps.
func (c *Client) postForToken(ctx context.Context, path string, payload map[string]string, loginStep bool) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode login payload")
	}

	resp, err := c.http.Post(ctx, c.baseURL+path, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "login request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		if loginStep && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			// A rejected login is a credential problem, not an expired session.
			return "", errors.New(errors.ErrorTypeAuthentication, fmt.Sprintf("login rejected: %s", msg)).
				WithDetail("status_code", resp.StatusCode)
		}
		return "", errors.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("login failed: %s", msg))
	}

	var token string
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "unexpected login response body")
	}
	if token == "" {
		return "", errors.New(errors.ErrorTypeData, "login returned an empty token")
	}
	return token, nil
}

// CheckHealth probes the unauthenticated server-time endpoint to
// verify the share service is reachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	resp, err := c.http.Get(ctx, c.baseURL+systemTimePath, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "share service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.FromHTTPStatus(resp.StatusCode, "share service health probe failed")
	}
	return nil
}

// glucoseEntry is the wire shape of one reading.
type glucoseEntry struct {
	WT    string  `json:"WT"`
	ST    string  `json:"ST"`
	DT    string  `json:"DT"`
	Value float64 `json:"Value"`
	Trend string  `json:"Trend"`
}

// FetchRecords polls the latest glucose values covering the window
// from since to now. Malformed rows are logged and skipped.
func (c *Client) FetchRecords(ctx context.Context, session core.Session, since time.Time) ([]models.GlucoseRecord, error) {
	minutes := windowMinutes(since)

	url := fmt.Sprintf("%s%s?sessionId=%s&minutes=%d&maxCount=%d",
		c.baseURL, readGlucosePath, session.Credential.Token, minutes, maxCount)

	resp, err := c.http.Post(ctx, url, nil, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "glucose poll failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("glucose poll failed: %s", readErrorBody(resp.Body)))
	}

	var entries []glucoseEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "unexpected glucose payload")
	}

	records := make([]models.GlucoseRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := c.mapEntry(e)
		if err != nil {
			c.logger.Warn("skipping unmappable glucose entry", zap.String("wt", e.WT), zap.Error(err))
			metrics.RecordsSkipped.WithLabelValues(c.name).Inc()
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) mapEntry(e glucoseEntry) (models.GlucoseRecord, error) {
	ts, err := parseShareTimestamp(e.WT)
	if err != nil {
		return models.GlucoseRecord{}, err
	}
	if e.Value <= 0 {
		return models.GlucoseRecord{}, errors.Newf(errors.ErrorTypeData, "non-positive glucose value %.1f", e.Value)
	}

	rec := models.NewGlucoseRecord(c.name, ts, e.Value, mapTrend(e.Trend))
	rec.Raw = map[string]any{"wt": e.WT, "trend": e.Trend}
	return rec, nil
}

// windowMinutes converts the watermark into the lookback window the
// share API expects, capped at 24 hours.
func windowMinutes(since time.Time) int {
	if since.IsZero() {
		return 24 * 60
	}
	minutes := int(time.Since(since).Minutes()) + 1
	if minutes < 1 {
		minutes = 1
	}
	if minutes > 24*60 {
		minutes = 24 * 60
	}
	return minutes
}

// shareDatePattern matches the legacy /Date(1234567890000)/ encoding,
// with an optional timezone offset suffix.
var shareDatePattern = regexp.MustCompile(`/?Date\((\d+)([+-]\d{4})?\)/?`)

func parseShareTimestamp(raw string) (time.Time, error) {
	m := shareDatePattern.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, errors.Newf(errors.ErrorTypeData, "unparseable timestamp %q", raw)
	}
	millis, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeData, "unparseable timestamp millis")
	}
	return time.UnixMilli(millis).UTC(), nil
}

func mapTrend(raw string) models.Trend {
	switch raw {
	case "DoubleUp", "1":
		return models.TrendDoubleUp
	case "SingleUp", "2":
		return models.TrendSingleUp
	case "FortyFiveUp", "3":
		return models.TrendFortyFiveUp
	case "Flat", "4":
		return models.TrendFlat
	case "FortyFiveDown", "5":
		return models.TrendFortyFiveDown
	case "SingleDown", "6":
		return models.TrendSingleDown
	case "DoubleDown", "7":
		return models.TrendDoubleDown
	case "NotComputable", "8":
		return models.TrendNotComputable
	default:
		return models.TrendNone
	}
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "no response body"
	}
	return string(b)
}
