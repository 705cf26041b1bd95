package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/airtai/fastagency-sub000/pkg/bus"
)

// Session is the broker state of one conversation thread. It is owned by a
// Manager; callers only read it.
type Session struct {
	ThreadID string

	conn   bus.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	subs           map[string]bus.Stream
	buffer         strings.Builder
	lastFragment   string
	conversationID int64
	turnStarted    time.Time
	consuming      bool
	finished       bool
	closed         bool
}

func newSession(threadID string, conversationID int64, conn bus.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ThreadID:       threadID,
		conn:           conn,
		ctx:            ctx,
		cancel:         cancel,
		subs:           make(map[string]bus.Stream),
		conversationID: conversationID,
		turnStarted:    time.Now(),
	}
}

// Buffer returns the text accumulated in the current turn.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// LastFragment returns the most recent incremental output.
func (s *Session) LastFragment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFragment
}

// ConversationID returns the persisted conversation the turn belongs to.
func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// appendFragment adds text to the buffer and returns the accumulated text.
func (s *Session) appendFragment(text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finished {
		return "", false
	}
	s.buffer.WriteString(text)
	s.lastFragment = text
	return s.buffer.String(), true
}

// startTurn resets per-turn state. It fails once the session is ending.
func (s *Session) startTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return false
	}
	s.resetLocked()
	return true
}

func (s *Session) clearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.buffer.Reset()
	s.lastFragment = ""
	s.turnStarted = time.Now()
}

func (s *Session) setConversationID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// addSubscription records stream under subject. It returns false if the
// session is already closed.
func (s *Session) addSubscription(subject string, stream bus.Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if old, ok := s.subs[subject]; ok && old != stream {
		_ = old.Stop()
	}
	s.subs[subject] = stream
	return true
}

// close marks the session closed and hands back what must be released.
func (s *Session) close() ([]bus.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	streams := make([]bus.Stream, 0, len(s.subs))
	for _, st := range s.subs {
		streams = append(streams, st)
	}
	s.subs = map[string]bus.Stream{}
	return streams, true
}

// claimConsumer returns true exactly once per session.
func (s *Session) claimConsumer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consuming || s.closed {
		return false
	}
	s.consuming = true
	return true
}

// claimFinish returns true for the one caller allowed to end the turn.
func (s *Session) claimFinish() (history string, started time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return "", time.Time{}, false
	}
	s.finished = true
	return s.buffer.String(), s.turnStarted, true
}
