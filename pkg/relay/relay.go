// Package relay bridges browser chat threads to the agent side of the
// broker: one connection per thread, streamed output, end-of-turn
// persistence and a response timeout.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/observability"
	"github.com/airtai/fastagency-sub000/pkg/subjects"
)

// Config tunes the relay.
type Config struct {
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	// RearmOnFragment restarts the timeout on every print fragment instead
	// of only canceling it.
	RearmOnFragment bool `yaml:"rearm_on_fragment"`
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: DefaultResponseTimeout,
		RearmOnFragment: true,
	}
}

// Request is one user message for a thread.
type Request struct {
	UserID         string
	ThreadID       string
	TeamID         string
	DeploymentID   string
	ConversationID int64
	Message        string
	// Initiate publishes on the shared kickoff subject instead of the
	// thread's own subject.
	Initiate bool
}

// payload is what the agent side receives.
type payload struct {
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id"`
	TeamID       string `json:"team_id"`
	Message      string `json:"msg"`
	DeploymentID string `json:"deployment_id"`
}

// Relay is the entry point for client requests.
type Relay struct {
	cfg        Config
	manager    *Manager
	aggregator *Aggregator
	logger     *observability.Logger
}

// New wires a relay over dialer.
func New(cfg Config, dialer bus.Dialer, persister Persister, emitter Emitter, logger *observability.Logger) *Relay {
	if logger == nil {
		logger = observability.Discard()
	}
	manager := NewManager(dialer, NewTimeoutGuard(cfg.ResponseTimeout), logger)
	r := &Relay{
		cfg:        cfg,
		manager:    manager,
		aggregator: NewAggregator(manager, persister, emitter, logger),
		logger:     logger,
	}
	r.aggregator.onActivity = r.agentActive
	return r
}

// Manager exposes the session registry.
func (r *Relay) Manager() *Manager {
	return r.manager
}

// Send starts a turn: it makes sure the thread has a session consuming its
// output, arms the timeout and publishes the message. Only a failure to
// connect to the broker is returned; later failures end in the timeout.
func (r *Relay) Send(ctx context.Context, req Request) error {
	ctx, span := observability.StartSpan(ctx, "relay.send")
	defer span.End()
	span.SetAttributes(
		observability.AttrThreadID.String(req.ThreadID),
		observability.AttrDeploymentID.String(req.DeploymentID),
		observability.AttrConversationID.Int64(req.ConversationID),
		attribute.Bool("chatrelay.initiate", req.Initiate),
	)

	thread := subjects.Thread{UserID: req.UserID, DeploymentID: req.DeploymentID, ThreadID: req.ThreadID}
	outbound, err := r.outboundSubject(thread, req.Initiate)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid thread").
			WithContext("thread_id", req.ThreadID)
	}
	inbound, err := thread.ClientMessages()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid thread").
			WithContext("thread_id", req.ThreadID)
	}

	sess, err := r.startTurn(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect")
		return err
	}

	if sess.claimConsumer() {
		r.subscribe(sess, inbound)
	}

	r.arm(sess)

	data, err := json.Marshal(payload{
		UserID:       req.UserID,
		ThreadID:     req.ThreadID,
		TeamID:       req.TeamID,
		Message:      req.Message,
		DeploymentID: req.DeploymentID,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode request")
	}
	span.SetAttributes(observability.AttrSubject.String(outbound))
	if err := sess.conn.Publish(ctx, outbound, data); err != nil {
		err = apperrors.Wrap(err, apperrors.ErrCodeBrokerPublish, "publish request").
			WithContext("subject", outbound)
		span.RecordError(err)
		r.logger.WithContext(ctx).Error("failed to publish request", "thread_id", req.ThreadID, "error", err)
	}
	return nil
}

// startTurn returns a session that has been reset for a new turn. A session
// that ends between lookup and reset is replaced by a fresh one.
func (r *Relay) startTurn(ctx context.Context, req Request) (*Session, error) {
	for attempt := 0; attempt < 3; attempt++ {
		sess, err := r.manager.GetOrCreate(ctx, req.ThreadID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		sess.setConversationID(req.ConversationID)
		if sess.startTurn() {
			return sess, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrCodeInternal, "session kept closing while starting turn").
		WithContext("thread_id", req.ThreadID)
}

func (r *Relay) outboundSubject(thread subjects.Thread, initiate bool) (string, error) {
	if initiate {
		if err := thread.Validate(); err != nil {
			return "", err
		}
		return subjects.InitiateChat, nil
	}
	return thread.ServerMessages()
}

// subscribe starts the consumer task of sess. Failures are logged; the
// thread then stalls until its timeout fires.
func (r *Relay) subscribe(sess *Session, subject string) {
	stream, err := sess.conn.Subscribe(sess.ctx, subject)
	if err != nil {
		err = apperrors.Wrap(err, apperrors.ErrCodeBrokerSubscribe, "subscribe thread output").
			WithContext("subject", subject)
		r.logger.WithThread(sess.ThreadID).Error("subscription failed", "error", err)
		return
	}
	if !r.manager.addSubscription(sess, subject, stream) {
		return
	}
	go r.consume(sess, stream)
}

func (r *Relay) consume(sess *Session, stream bus.Stream) {
	for {
		msg, err := stream.Next(sess.ctx)
		if err != nil {
			if !errors.Is(err, bus.ErrClosed) && sess.ctx.Err() == nil {
				r.logger.WithThread(sess.ThreadID).Warn("subscription ended", "subject", stream.Subject(), "error", err)
			}
			return
		}
		r.aggregator.Handle(sess.ctx, sess, msg)
	}
}

func (r *Relay) arm(sess *Session) {
	r.manager.withCurrent(sess, func() {
		r.manager.guard.Arm(sess.ThreadID, func() {
			r.aggregator.Timeout(sess)
		})
	})
}

func (r *Relay) agentActive(sess *Session) {
	if r.cfg.RearmOnFragment {
		r.arm(sess)
		return
	}
	r.manager.withCurrent(sess, func() {
		r.manager.guard.Cancel(sess.ThreadID)
	})
}

// Shutdown releases every session.
func (r *Relay) Shutdown(ctx context.Context) error {
	return r.manager.Shutdown(ctx)
}
