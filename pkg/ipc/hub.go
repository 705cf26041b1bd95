package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"
)

// Socket event types.
const (
	EventNewMessageFromTeam     = "newMessageFromTeam"
	EventStreamFromTeamFinished = "streamFromTeamFinished"
	EventError                  = "error"
	EventPong                   = "pong"
)

// Event represents a message sent to WebSocket clients.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ThreadID  string    `json:"threadId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(eventType, threadID string, payload any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		ThreadID:  threadID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Hub fans relay output out to the WebSocket clients watching each thread.
// It implements relay.Emitter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

// NewMessageFromTeam pushes the accumulated output of the current turn.
func (h *Hub) NewMessageFromTeam(threadID, text string) {
	h.Broadcast(newEvent(EventNewMessageFromTeam, threadID, text))
}

// StreamFromTeamFinished tells the thread's clients the turn is over.
func (h *Hub) StreamFromTeamFinished(threadID string) {
	h.Broadcast(newEvent(EventStreamFromTeamFinished, threadID, nil))
}

// Broadcast sends an event to all matching clients, dropping slow consumers.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.stopped() {
			continue
		}
		if !c.enqueue(event) {
			metricEventsDropped.Inc()
			c.stop()
			go h.removeClient(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a client that receives events for threadID only.
func (h *Hub) register(conn wsConn, threadID string) *client {
	c := newClient(conn, threadID, clientSendBuffer)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metricWSClients.Inc()
	return c
}

// removeClient removes a client and stops its write loop. The send channel
// stays open since readers of the socket may still enqueue replies.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		metricWSClients.Dec()
	}
	h.mu.Unlock()
	c.stop()
}

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// errClientDropped ends the write loop of a client the hub removed.
var errClientDropped = errors.New("client dropped")

type client struct {
	conn     wsConn
	send     chan Event
	threadID string

	done     chan struct{}
	stopOnce sync.Once
}

func newClient(conn wsConn, threadID string, buffer int) *client {
	return &client{
		conn:     conn,
		send:     make(chan Event, buffer),
		threadID: threadID,
		done:     make(chan struct{}),
	}
}

func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *client) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue queues event without blocking. It reports false when the client
// is stopped or its buffer is full.
func (c *client) enqueue(event Event) bool {
	if c.threadID != "" && event.ThreadID != c.threadID {
		return true
	}
	if c.stopped() {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-c.done:
			return errClientDropped
		case event := <-c.send:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *client) close(status websocket.StatusCode, reason string) {
	_ = c.conn.Close(status, reason)
}
