package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/errors"
)

// DefaultTokenBuffer is how long before expiry a cached credential is
// considered stale.
const DefaultTokenBuffer = 5 * time.Minute

// TokenCache hands out valid sessions for one provider account. It
// caches the credential until within the safety buffer of expiry and
// collapses concurrent acquisitions into a single provider login.
type TokenCache struct {
	authenticator core.Authenticator
	retry         *RetryPolicy
	buffer        time.Duration
	logger        *zap.Logger

	mu      sync.RWMutex
	session core.Session
	valid   bool

	group singleflight.Group
}

// NewTokenCache creates a token cache around the provider's login
// flow. A nil retry policy falls back to the default; a non-positive
// buffer falls back to DefaultTokenBuffer.
func NewTokenCache(auth core.Authenticator, retry *RetryPolicy, buffer time.Duration, logger *zap.Logger) *TokenCache {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if buffer <= 0 {
		buffer = DefaultTokenBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		authenticator: auth,
		retry:         retry,
		buffer:        buffer,
		logger:        logger.With(zap.String("component", "token_cache")),
	}
}

// GetValidToken returns the cached session when it is still outside
// the expiry buffer, otherwise acquires a fresh one. Concurrent
// callers with a cold or stale cache share one in-flight acquisition.
func (tc *TokenCache) GetValidToken(ctx context.Context) (core.Session, error) {
	tc.mu.RLock()
	if tc.valid && !tc.session.Credential.ExpiresWithin(tc.buffer) {
		session := tc.session
		tc.mu.RUnlock()
		return session, nil
	}
	tc.mu.RUnlock()

	v, err, _ := tc.group.Do("acquire", func() (interface{}, error) {
		// Another caller may have finished acquiring while this one
		// waited on the group.
		tc.mu.RLock()
		if tc.valid && !tc.session.Credential.ExpiresWithin(tc.buffer) {
			session := tc.session
			tc.mu.RUnlock()
			return session, nil
		}
		tc.mu.RUnlock()

		session, err := tc.acquire(ctx)
		if err != nil {
			return core.Session{}, err
		}

		tc.mu.Lock()
		tc.session = session
		tc.valid = true
		tc.mu.Unlock()

		return session, nil
	})
	if err != nil {
		return core.Session{}, err
	}
	return v.(core.Session), nil
}

// acquire runs the provider login under the retry policy. Transient
// failures are retried with backoff; credential rejections are not.
func (tc *TokenCache) acquire(ctx context.Context) (core.Session, error) {
	var session core.Session

	err := tc.retry.ExecuteWithCondition(ctx, func() error {
		s, err := tc.authenticator.Acquire(ctx)
		if err != nil {
			return err
		}
		session = s
		return nil
	}, errors.IsRetryable)
	if err != nil {
		tc.logger.Warn("token acquisition failed", zap.Error(err))
		return core.Session{}, err
	}

	tc.logger.Debug("token acquired",
		zap.Time("expires_at", session.Credential.ExpiresAt),
		zap.String("connection_id", session.ConnectionID))
	return session, nil
}

// Invalidate drops the cached credential. The next GetValidToken
// re-authenticates.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.valid = false
	tc.session = core.Session{}
	tc.mu.Unlock()

	tc.logger.Debug("cached token invalidated")
}

// Session returns the cached session without validating freshness.
// Used by the status surface; callers wanting a usable token must use
// GetValidToken.
func (tc *TokenCache) Session() (core.Session, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.session, tc.valid
}
