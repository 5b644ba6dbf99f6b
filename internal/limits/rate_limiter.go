// Package limits protects the hub from misbehaving clients. A per-client
// token bucket bounds message throughput so one flooding device cannot
// starve the room.
package limits

import (
	"sync"

	"golang.org/x/time/rate"
)

// MessageRateLimiter keeps one token bucket per connection. Buckets allow a
// burst (rapid order entry is legitimate) with a sustained per-second rate.
type MessageRateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	burst    int
	perSec   rate.Limit
}

// NewMessageRateLimiter creates a limiter allowing burst messages at once
// and perSec sustained. Non-positive values select 100 burst, 10/sec.
func NewMessageRateLimiter(burst int, perSec float64) *MessageRateLimiter {
	if burst <= 0 {
		burst = 100
	}
	if perSec <= 0 {
		perSec = 10
	}
	return &MessageRateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		burst:    burst,
		perSec:   rate.Limit(perSec),
	}
}

// Allow reports whether the client may send another message now.
func (l *MessageRateLimiter) Allow(clientID int64) bool {
	l.mu.Lock()
	lim, ok := l.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[clientID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Remove drops the client's bucket. Called on disconnect so the map does
// not grow with connection churn.
func (l *MessageRateLimiter) Remove(clientID int64) {
	l.mu.Lock()
	delete(l.limiters, clientID)
	l.mu.Unlock()
}
