// Package clients provides the outbound HTTP plumbing shared by all
// provider integrations: a tuned HTTP client, request rate limiting,
// and circuit breaking.
package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter throttles successive outbound calls to a provider.
type RateLimiter interface {
	// Allow checks if a request is allowed immediately
	Allow() bool

	// Wait blocks until a request is allowed
	Wait(ctx context.Context) error

	// ApplyDelay enforces the minimum inter-request spacing before an
	// outbound attempt, scaled by the attempt index. It must be called
	// before every attempt, including the first.
	ApplyDelay(ctx context.Context, attempt int) error

	// SetRate updates the sustained rate limit
	SetRate(rate float64)

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics for monitoring and debugging.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	CurrentTokens   float64       `json:"current_tokens"`
	LastRequest     time.Time     `json:"last_request"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// TokenBucketRateLimiter implements the token bucket algorithm with an
// additional minimum-spacing constraint between successive requests.
// Tokens refill at a constant rate; spacing keeps share-style APIs from
// seeing bursts even when the bucket is full.
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	spacing  time.Duration
	tokens   float64
	lastTime time.Time
	lastReq  time.Time

	// Stats
	allowedRequests int64
	blockedRequests int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second), burst capacity, and minimum spacing between
// requests. A rate of 0 disables the token bucket; a spacing of 0
// disables the spacing constraint.
func NewRateLimiter(rate float64, burst int, spacing time.Duration) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		spacing:  spacing,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Allow checks if a request is allowed immediately.
func (tb *TokenBucketRateLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.rate <= 0 || tb.tokens >= 1.0 {
		if tb.rate > 0 {
			tb.tokens--
		}
		tb.lastReq = time.Now()
		atomic.AddInt64(&tb.allowedRequests, 1)
		return true
	}

	atomic.AddInt64(&tb.blockedRequests, 1)
	return false
}

// Wait blocks until a request is allowed under the sustained rate.
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		tb.mu.Lock()
		tb.refill()

		if tb.rate <= 0 || tb.tokens >= 1.0 {
			if tb.rate > 0 {
				tb.tokens--
			}
			tb.lastReq = time.Now()
			atomic.AddInt64(&tb.allowedRequests, 1)
			atomic.AddInt64(&tb.totalWaitTime, time.Since(start).Nanoseconds())
			tb.mu.Unlock()
			return nil
		}

		deficit := 1.0 - tb.tokens
		waitTime := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&tb.blockedRequests, 1)
			return ctx.Err()
		}
	}
}

// ApplyDelay sleeps until the minimum spacing since the previous
// request has elapsed, then waits on the token bucket. The spacing
// grows with the attempt index so that retries back further off.
func (tb *TokenBucketRateLimiter) ApplyDelay(ctx context.Context, attempt int) error {
	if attempt < 0 {
		attempt = 0
	}

	if tb.spacing > 0 {
		tb.mu.Lock()
		gap := tb.spacing * time.Duration(attempt+1)
		ready := tb.lastReq.Add(gap)
		wait := time.Until(ready)
		tb.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	return tb.Wait(ctx)
}

// refill adds tokens based on elapsed time
func (tb *TokenBucketRateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}

	tb.lastTime = now
}

// SetRate updates the sustained rate limit
func (tb *TokenBucketRateLimiter) SetRate(rate float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.rate = rate
}

// GetStats returns rate limiter statistics
func (tb *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	allowed := atomic.LoadInt64(&tb.allowedRequests)
	blocked := atomic.LoadInt64(&tb.blockedRequests)
	totalWait := atomic.LoadInt64(&tb.totalWaitTime)

	avgWait := time.Duration(0)
	if allowed > 0 {
		avgWait = time.Duration(totalWait / allowed)
	}

	return RateLimiterStats{
		Rate:            tb.rate,
		Burst:           tb.burst,
		AllowedRequests: allowed,
		BlockedRequests: blocked,
		CurrentTokens:   tb.tokens,
		LastRequest:     tb.lastReq,
		AverageWaitTime: avgWait,
	}
}
