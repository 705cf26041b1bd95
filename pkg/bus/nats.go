package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Connect opens a NATS connection using the configured credentials.
func Connect(cfg Config, name string, extra ...nats.Option) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	}
	switch {
	case strings.TrimSpace(cfg.CredsFile) != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.User != "" || cfg.Password != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	}
	opts = append(opts, extra...)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// EnsureStream creates or updates the output stream so ordered consumers
// have something to attach to.
func EnsureStream(ctx context.Context, conn *nats.Conn, name string, subjects []string) error {
	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("jetstream init: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Agent output streamed back to chat clients",
		Subjects:    subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// NATSDialer implements Dialer using NATS.
type NATSDialer struct {
	config Config
}

// NewNATSDialer creates a dialer for per-thread connections.
func NewNATSDialer(cfg Config) *NATSDialer {
	return &NATSDialer{config: cfg}
}

func (d *NATSDialer) Dial(ctx context.Context, name string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := Connect(d.config, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}

	c := &natsConn{conn: nc, stream: d.config.Stream}
	if c.stream != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("%w: jetstream init: %w", ErrDialFailed, err)
		}
		c.js = js
	}
	return c, nil
}

type natsConn struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
	closed atomic.Bool
}

func (c *natsConn) Publish(ctx context.Context, subject string, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.conn.Publish(subject, data)
}

func (c *natsConn) Subscribe(ctx context.Context, subject string) (Stream, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.js != nil {
		return c.subscribeOrdered(ctx, subject)
	}
	return c.subscribeCore(ctx, subject)
}

func (c *natsConn) subscribeOrdered(ctx context.Context, subject string) (Stream, error) {
	consumer, err := c.js.OrderedConsumer(ctx, c.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ordered consumer on %s: %w", c.stream, err)
	}
	iter, err := consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", subject, err)
	}
	s := &orderedStream{subject: subject, iter: iter}
	context.AfterFunc(ctx, func() { _ = s.Stop() })
	return s, nil
}

func (c *natsConn) subscribeCore(ctx context.Context, subject string) (Stream, error) {
	ch := make(chan *nats.Msg, 256)
	sub, err := c.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s := &coreStream{sub: sub, msgs: ch, done: make(chan struct{})}
	context.AfterFunc(ctx, func() { _ = s.Stop() })
	return s, nil
}

func (c *natsConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	// Drain flushes pending publishes before closing; Close covers a failed drain.
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	return nil
}

// orderedStream wraps a JetStream ordered consumer iterator.
type orderedStream struct {
	subject string
	iter    jetstream.MessagesContext
	once    sync.Once
}

func (s *orderedStream) Next(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := s.iter.Next()
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return &Message{Subject: msg.Subject(), Data: msg.Data()}, nil
}

func (s *orderedStream) Stop() error {
	s.once.Do(s.iter.Stop)
	return nil
}

func (s *orderedStream) Subject() string {
	return s.subject
}

// coreStream wraps a core NATS channel subscription.
type coreStream struct {
	sub  *nats.Subscription
	msgs chan *nats.Msg
	done chan struct{}
	once sync.Once
}

func (s *coreStream) Next(ctx context.Context) (*Message, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	select {
	case msg := <-s.msgs:
		return &Message{Subject: msg.Subject, Data: msg.Data}, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *coreStream) Stop() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
	})
	return err
}

func (s *coreStream) Subject() string {
	return s.sub.Subject
}
