package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/observability"
)

// Manager owns one Session per thread id.
type Manager struct {
	dialer bus.Dialer
	guard  *TimeoutGuard
	logger *observability.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	dials    singleflight.Group
}

// NewManager creates a session manager dialing through dialer.
func NewManager(dialer bus.Dialer, guard *TimeoutGuard, logger *observability.Logger) *Manager {
	if guard == nil {
		guard = NewTimeoutGuard(0)
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Manager{
		dialer:   dialer,
		guard:    guard,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Guard returns the timeout guard shared by the manager's sessions.
func (m *Manager) Guard() *TimeoutGuard {
	return m.guard
}

// GetOrCreate returns the session of threadID, dialing a new broker
// connection if there is none. Concurrent calls for one thread share a dial.
func (m *Manager) GetOrCreate(ctx context.Context, threadID string, conversationID int64) (*Session, error) {
	if sess := m.Get(threadID); sess != nil {
		return sess, nil
	}

	v, err, _ := m.dials.Do(threadID, func() (any, error) {
		if sess := m.Get(threadID); sess != nil {
			return sess, nil
		}
		conn, err := m.dialer.Dial(ctx, "chatrelay-"+threadID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBrokerConnect, "connect to broker").
				WithContext("thread_id", threadID)
		}

		sess := newSession(threadID, conversationID, conn)
		m.mu.Lock()
		m.sessions[threadID] = sess
		m.mu.Unlock()

		observability.SessionsActive.Inc()
		m.logger.SessionOpened(threadID, conversationID)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get returns the live session of threadID or nil.
func (m *Manager) Get(threadID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[threadID]
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AddSubscription records a stream on the thread's session. If the session
// is gone the stream is stopped and false is returned.
func (m *Manager) AddSubscription(threadID, subject string, stream bus.Stream) bool {
	sess := m.Get(threadID)
	if sess == nil {
		_ = stream.Stop()
		return false
	}
	return m.addSubscription(sess, subject, stream)
}

func (m *Manager) addSubscription(sess *Session, subject string, stream bus.Stream) bool {
	if !sess.addSubscription(subject, stream) {
		_ = stream.Stop()
		return false
	}
	return true
}

// ClearBuffer empties the thread's accumulated text.
func (m *Manager) ClearBuffer(threadID string) bool {
	sess := m.Get(threadID)
	if sess == nil {
		return false
	}
	sess.clearBuffer()
	return true
}

// SetConversationID updates the conversation the thread's turn belongs to.
func (m *Manager) SetConversationID(threadID string, id int64) bool {
	sess := m.Get(threadID)
	if sess == nil {
		return false
	}
	sess.setConversationID(id)
	return true
}

// Cleanup tears down the session of threadID. Calling it for an unknown or
// already cleaned up thread does nothing.
func (m *Manager) Cleanup(threadID string) bool {
	sess := m.Get(threadID)
	if sess == nil {
		return false
	}
	return m.release(sess, "cleanup")
}

// finishing atomically claims the end of sess's turn and detaches it from
// the registry, so a new request for the thread gets a fresh session.
func (m *Manager) finishing(sess *Session) (history string, started time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, started, ok = sess.claimFinish()
	if !ok {
		return "", time.Time{}, false
	}
	m.detachLocked(sess)
	return history, started, true
}

func (m *Manager) detachLocked(sess *Session) bool {
	if m.sessions[sess.ThreadID] != sess {
		return false
	}
	delete(m.sessions, sess.ThreadID)
	m.guard.Cancel(sess.ThreadID)
	return true
}

// release detaches sess if it is still registered and closes its resources.
// It never touches a newer session registered under the same thread id.
func (m *Manager) release(sess *Session, reason string) bool {
	m.mu.Lock()
	m.detachLocked(sess)
	m.mu.Unlock()

	streams, ok := sess.close()
	if !ok {
		return false
	}
	sess.cancel()
	for _, st := range streams {
		if err := st.Stop(); err != nil {
			m.logger.Debug("failed to stop subscription", "thread_id", sess.ThreadID, "subject", st.Subject(), "error", err)
		}
	}
	if err := sess.conn.Close(); err != nil {
		m.logger.Warn("failed to close broker connection", "thread_id", sess.ThreadID, "error", err)
	}

	observability.SessionsActive.Dec()
	m.logger.SessionClosed(sess.ThreadID, reason)
	return true
}

// current reports whether sess is still the registered session of its thread.
func (m *Manager) current(sess *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sess.ThreadID] == sess
}

// withCurrent runs fn while sess is guaranteed to stay registered.
func (m *Manager) withCurrent(sess *Session, fn func()) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sessions[sess.ThreadID] != sess {
		return false
	}
	fn()
	return true
}

// Shutdown releases every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.RUnlock()

	for _, sess := range all {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown interrupted with %d sessions left: %w", m.Len(), err)
		}
		m.release(sess, "shutdown")
	}
	m.guard.Stop()
	return nil
}
