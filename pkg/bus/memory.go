package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-memory broker for testing. Every Dial returns a new
// connection on the same shared subject space. It supports "*" and ">"
// wildcards and delivers messages to each subscription in publish order.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memoryStream
	conns         map[*memoryConn]struct{}
	subCounter    atomic.Uint64
	dials         atomic.Int64

	// DialErr, when set, makes every Dial fail with it.
	DialErr error
	// SubscribeErr, when set, makes every Subscribe fail with it.
	SubscribeErr error
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*memoryStream),
		conns:         make(map[*memoryConn]struct{}),
	}
}

func (b *MemoryBus) Dial(ctx context.Context, name string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.dials.Add(1)
	if b.DialErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, b.DialErr)
	}
	c := &memoryConn{bus: b, name: name, streams: make(map[*memoryStream]struct{})}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	return c, nil
}

// Dials returns how many times Dial was called.
func (b *MemoryBus) Dials() int {
	return int(b.dials.Load())
}

// OpenConns returns the number of connections not yet closed.
func (b *MemoryBus) OpenConns() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Subscribers returns the number of live subscriptions matching subject.
func (b *MemoryBus) Subscribers(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for pattern, subs := range b.subscriptions {
		if matchSubject(pattern, subject) {
			n += len(subs)
		}
	}
	return n
}

func (b *MemoryBus) publish(subject string, data []byte) {
	msg := &Message{
		Subject: subject,
		Data:    append([]byte(nil), data...),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, subs := range b.subscriptions {
		if !matchSubject(pattern, subject) {
			continue
		}
		for _, sub := range subs {
			if sub.closed.Load() {
				continue
			}
			// Non-blocking send to avoid deadlocks
			select {
			case sub.messages <- msg:
			default:
				// Buffer full, drop message
			}
		}
	}
}

func (b *MemoryBus) remove(s *memoryStream) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			b.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[s.subject]) == 0 {
		delete(b.subscriptions, s.subject)
	}
}

// memoryConn implements Conn for MemoryBus.
type memoryConn struct {
	bus     *MemoryBus
	name    string
	mu      sync.Mutex
	streams map[*memoryStream]struct{}
	closed  atomic.Bool
}

func (c *memoryConn) Publish(ctx context.Context, subject string, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.bus.publish(subject, data)
	return nil
}

func (c *memoryConn) Subscribe(ctx context.Context, subject string) (Stream, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.bus.SubscribeErr != nil {
		return nil, c.bus.SubscribeErr
	}

	s := &memoryStream{
		id:       fmt.Sprintf("sub-%d", c.bus.subCounter.Add(1)),
		subject:  subject,
		messages: make(chan *Message, 256),
		done:     make(chan struct{}),
		bus:      c.bus,
	}

	c.mu.Lock()
	c.streams[s] = struct{}{}
	c.mu.Unlock()

	c.bus.mu.Lock()
	c.bus.subscriptions[subject] = append(c.bus.subscriptions[subject], s)
	c.bus.mu.Unlock()

	context.AfterFunc(ctx, func() { _ = s.Stop() })
	return s, nil
}

func (c *memoryConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	streams := make([]*memoryStream, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		_ = s.Stop()
	}

	c.bus.mu.Lock()
	delete(c.bus.conns, c)
	c.bus.mu.Unlock()
	return nil
}

// memoryStream implements Stream for MemoryBus.
type memoryStream struct {
	id       string
	subject  string
	messages chan *Message
	done     chan struct{}
	bus      *MemoryBus
	closed   atomic.Bool
}

func (s *memoryStream) Next(ctx context.Context) (*Message, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memoryStream) Stop() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.bus.remove(s)
	return nil
}

func (s *memoryStream) Subject() string {
	return s.subject
}

// matchSubject checks if a subject matches a pattern with wildcards.
// Supports "*" for single token and ">" for multiple tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			return true
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}

	return pi == len(patternParts) && si == len(subjectParts)
}
