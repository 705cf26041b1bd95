package ipc

import (
	"sync"
	"time"
)

const (
	maxSocketClients   = 1024
	maxWSReadBytes     = 64 << 10
	maxBodyBytesSmall  = 1 << 20
	clientSendBuffer   = 64
	wsWriteTimeout     = 15 * time.Second
	wsPingInterval     = 20 * time.Second
	wsPingTimeout      = 5 * time.Second
	readHeaderTimeout  = 10 * time.Second
	idleTimeout        = 2 * time.Minute
	defaultShutdownTTL = 10 * time.Second
)

// connLimiter caps concurrent WebSocket connections. A zero max disables it.
type connLimiter struct {
	max    int
	mu     sync.Mutex
	active int
}

func newConnLimiter(max int) *connLimiter {
	return &connLimiter{max: max}
}

func (l *connLimiter) Acquire() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.max {
		metricConnRejected.Inc()
		return false
	}
	l.active++
	return true
}

func (l *connLimiter) Release() {
	if l == nil || l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}
