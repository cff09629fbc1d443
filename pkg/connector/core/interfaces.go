// Package core defines the capability interfaces a provider
// integration implements and the shared types that flow between the
// base connector and the providers. Providers implement capabilities;
// they never embed or subclass the base connector.
package core

import (
	"context"
	"time"

	"github.com/glucosync/glucosync/pkg/models"
)

// Credential is an authenticated session with a provider.
type Credential struct {
	// Token is the opaque session token or bearer token.
	Token string

	// ExpiresAt is the instant the token stops being usable. Zero
	// means the provider did not report an expiry and the token is
	// treated as valid until invalidated.
	ExpiresAt time.Time
}

// ExpiresWithin reports whether the credential expires within the
// given buffer of now. A zero ExpiresAt never expires.
func (c Credential) ExpiresWithin(buffer time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(c.ExpiresAt.Add(-buffer))
}

// Session is the outcome of a completed authentication: the credential
// plus the sub-account the provider resolved for this connection.
type Session struct {
	Credential Credential

	// ConnectionID identifies the patient, receiver or sub-account
	// selected during authentication. Empty when the provider has a
	// single implicit account.
	ConnectionID string
}

// Authenticator performs the provider's login flow. Multi-step flows
// (account lookup then session login) complete inside a single Acquire
// call and resolve the sub-account once.
type Authenticator interface {
	Acquire(ctx context.Context) (Session, error)
}

// Fetcher reads provider rows newer than the watermark and maps them
// to normalized records. Implementations return records in any order
// and may include rows at or before since; the base connector filters
// and sorts. A row that cannot be mapped is reported through the
// per-record error callback and skipped, never aborting the batch.
type Fetcher interface {
	FetchRecords(ctx context.Context, session Session, since time.Time) ([]models.GlucoseRecord, error)
}

// HealthReporter is an optional capability for providers that expose
// their own health signal beyond the connector's failure counter.
type HealthReporter interface {
	CheckHealth(ctx context.Context) error
}

// TokenProvider hands out valid credentials, acquiring or refreshing
// as needed. Implemented by the base token cache.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (Session, error)
	Invalidate()
}

// Sink receives normalized records emitted by a sync cycle.
type Sink interface {
	Emit(ctx context.Context, records []models.GlucoseRecord) error
	Close() error
}

// HealthStatus is a point-in-time snapshot of a connector's health for
// the status surface.
type HealthStatus struct {
	Provider            string    `json:"provider"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailedRequests      int64     `json:"failed_requests"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastSync            time.Time `json:"last_sync,omitempty"`
	Watermark           time.Time `json:"watermark,omitempty"`
}
