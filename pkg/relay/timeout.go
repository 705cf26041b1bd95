package relay

import (
	"sync"
	"time"
)

// DefaultResponseTimeout bounds the wait for the next reply of a turn.
const DefaultResponseTimeout = 45 * time.Second

// TimeoutGuard keeps at most one armed timer per thread. A timer fires at
// most once and never after it has been canceled or replaced.
type TimeoutGuard struct {
	window time.Duration

	mu     sync.Mutex
	timers map[string]*armedTimer
}

type armedTimer struct {
	timer *time.Timer
}

// NewTimeoutGuard creates a guard. A non-positive window uses
// DefaultResponseTimeout.
func NewTimeoutGuard(window time.Duration) *TimeoutGuard {
	if window <= 0 {
		window = DefaultResponseTimeout
	}
	return &TimeoutGuard{
		window: window,
		timers: make(map[string]*armedTimer),
	}
}

// Window returns the configured timeout.
func (g *TimeoutGuard) Window() time.Duration {
	return g.window
}

// Arm starts the timer for threadID, canceling any timer already armed for
// it. onFire runs on its own goroutine.
func (g *TimeoutGuard) Arm(threadID string, onFire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.timers[threadID]; ok {
		prev.timer.Stop()
		delete(g.timers, threadID)
	}

	t := &armedTimer{}
	g.timers[threadID] = t
	t.timer = time.AfterFunc(g.window, func() {
		if g.claim(threadID, t) {
			onFire()
		}
	})
}

// claim removes t if it is still the armed timer of threadID. Whoever
// removes the entry owns the outcome.
func (g *TimeoutGuard) claim(threadID string, t *armedTimer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timers[threadID] != t {
		return false
	}
	delete(g.timers, threadID)
	return true
}

// Cancel disarms the timer of threadID. It reports whether one was armed.
func (g *TimeoutGuard) Cancel(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.timers[threadID]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(g.timers, threadID)
	return true
}

// Armed reports whether threadID has a pending timer.
func (g *TimeoutGuard) Armed(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.timers[threadID]
	return ok
}

// Stop disarms every timer.
func (g *TimeoutGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.timers {
		t.timer.Stop()
		delete(g.timers, id)
	}
}
