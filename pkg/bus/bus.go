// Package bus is the broker abstraction used by the relay: a dialer for
// per-thread connections, publish, and pull-style subscriptions that a
// consumer task iterates until they are stopped.
// The production implementation uses NATS (JetStream ordered consumers when a
// stream is configured), with an in-memory option for testing.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned when operating on a closed connection or stopped stream.
	ErrClosed = errors.New("bus connection or stream closed")

	// ErrDialFailed wraps connection establishment failures.
	ErrDialFailed = errors.New("bus dial failed")
)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Dialer opens broker connections with process-level credentials.
type Dialer interface {
	// Dial opens a new connection. name identifies the connection to the
	// broker for monitoring.
	Dial(ctx context.Context, name string) (Conn, error)
}

// Conn is one broker connection. Implementations must be safe for concurrent use.
type Conn interface {
	// Publish sends a message to all subscribers of the subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe starts an ordered subscription on subject. Messages published
	// before Subscribe returns are not delivered. The stream is stopped when
	// ctx is canceled, Stop is called, or the connection closes.
	Subscribe(ctx context.Context, subject string) (Stream, error)

	// Close stops every stream of the connection and releases it.
	Close() error
}

// Stream delivers messages of one subscription in publish order.
type Stream interface {
	// Next blocks until the next message, ctx cancellation, or Stop.
	// After Stop it returns ErrClosed.
	Next(ctx context.Context) (*Message, error)

	// Stop ends the subscription. Safe to call more than once.
	Stop() error

	// Subject returns the subject this stream consumes.
	Subject() string
}

// Config holds configuration for NATS connections.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string `yaml:"url"`

	// Name is a client identifier prefix for debugging/monitoring.
	Name string `yaml:"name"`

	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Token     string `yaml:"token"`
	CredsFile string `yaml:"creds_file"`

	// Stream is the JetStream stream holding server→client output. When
	// empty, subscriptions fall back to core NATS subscriptions.
	Stream string `yaml:"stream"`

	// EnsureStream creates or updates Stream at startup.
	EnsureStream bool `yaml:"ensure_stream"`

	// Timeout is the connect timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://127.0.0.1:4222",
		Name:    "chatrelay",
		Stream:  "chat_messages",
		Timeout: 10 * time.Second,
	}
}
