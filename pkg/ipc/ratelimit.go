package ipc

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultMessageRate  rate.Limit = 2
	defaultMessageBurst            = 5
	maxTrackedSenders              = 10000
)

// senderLimiter throttles chat messages per user.
type senderLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func newSenderLimiter(limit rate.Limit, burst int) *senderLimiter {
	if limit <= 0 {
		limit = defaultMessageRate
	}
	if burst <= 0 {
		burst = defaultMessageBurst
	}
	return &senderLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[int64]*rate.Limiter),
	}
}

func (l *senderLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= maxTrackedSenders {
			// Full buckets carry no state worth keeping.
			for id, existing := range l.limiters {
				if existing.Tokens() >= float64(l.burst) {
					delete(l.limiters, id)
				}
			}
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
