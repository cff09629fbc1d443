package base

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFailureThreshold is the number of consecutive failures after
// which a connector reports unhealthy.
const DefaultFailureThreshold = 3

// healthTracker counts consecutive failures against a threshold. A
// single success resets the streak immediately.
type healthTracker struct {
	threshold int

	consecutiveFails int32
	failedRequests   int64

	mu          sync.RWMutex
	lastSuccess time.Time
	lastFailure time.Time
}

func newHealthTracker(threshold int) *healthTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &healthTracker{threshold: threshold}
}

func (h *healthTracker) recordSuccess() {
	atomic.StoreInt32(&h.consecutiveFails, 0)

	h.mu.Lock()
	h.lastSuccess = time.Now()
	h.mu.Unlock()
}

func (h *healthTracker) recordFailure() {
	atomic.AddInt32(&h.consecutiveFails, 1)
	atomic.AddInt64(&h.failedRequests, 1)

	h.mu.Lock()
	h.lastFailure = time.Now()
	h.mu.Unlock()
}

// healthy reports whether the consecutive failure streak is still
// below the threshold.
func (h *healthTracker) healthy() bool {
	return int(atomic.LoadInt32(&h.consecutiveFails)) < h.threshold
}

func (h *healthTracker) consecutiveFailures() int {
	return int(atomic.LoadInt32(&h.consecutiveFails))
}

func (h *healthTracker) failedRequestCount() int64 {
	return atomic.LoadInt64(&h.failedRequests)
}

func (h *healthTracker) lastSuccessTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSuccess
}
