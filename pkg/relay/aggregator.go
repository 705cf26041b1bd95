package relay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/observability"
)

// Aggregator turns the message stream of a thread into client events and
// an end-of-turn record.
type Aggregator struct {
	manager   *Manager
	persister Persister
	emitter   Emitter
	logger    *observability.Logger

	// onActivity runs for every message of a live session except the
	// terminal ones; the relay uses it to re-arm or cancel the thread's
	// timeout.
	onActivity func(*Session)
}

// NewAggregator creates an aggregator for sessions of manager.
func NewAggregator(manager *Manager, persister Persister, emitter Emitter, logger *observability.Logger) *Aggregator {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Aggregator{
		manager:   manager,
		persister: persister,
		emitter:   emitter,
		logger:    logger,
	}
}

// Handle processes one inbound message of sess. Messages for a session that
// is no longer registered are dropped.
func (a *Aggregator) Handle(ctx context.Context, sess *Session, msg *bus.Message) {
	if !a.manager.current(sess) {
		a.logger.Debug("dropping message for released session", "thread_id", sess.ThreadID, "subject", msg.Subject)
		return
	}

	env, ok := DecodeEnvelope(msg.Data)
	if !ok {
		observability.DecodeFallbacks.Inc()
		a.logger.Debug("relaying undecodable message as text", "thread_id", sess.ThreadID)
	}

	switch env.Kind {
	case KindPrint:
		text, ok := sess.appendFragment(env.Text)
		if !ok {
			return
		}
		observability.FragmentsReceived.Inc()
		a.activity(sess)
		a.emitter.NewMessageFromTeam(sess.ThreadID, text)
	case KindTerminate:
		a.finish(ctx, sess, observability.OutcomeTerminate, env.Text)
	case KindError:
		a.finish(ctx, sess, observability.OutcomeError, env.Text)
	default:
		a.logger.Warn("ignoring message of unknown type", "thread_id", sess.ThreadID, "type", string(env.Kind))
		a.activity(sess)
	}
}

func (a *Aggregator) activity(sess *Session) {
	if a.onActivity != nil {
		a.onActivity(sess)
	}
}

// Timeout ends the turn of sess with the timeout message.
func (a *Aggregator) Timeout(sess *Session) {
	a.logger.WithThread(sess.ThreadID).Warn("no reply within timeout",
		"conversation_id", sess.ConversationID(),
		"last_fragment", sess.LastFragment(),
	)
	a.finish(context.Background(), sess, observability.OutcomeTimeout, TimeoutMessage)
}

// finish persists the turn, releases the session and always tells the
// client the stream is over. Only the first caller for a session wins.
func (a *Aggregator) finish(ctx context.Context, sess *Session, outcome, text string) {
	history, started, ok := a.manager.finishing(sess)
	if !ok {
		return
	}
	defer a.emitter.StreamFromTeamFinished(sess.ThreadID)

	ctx, span := observability.StartSpan(context.WithoutCancel(ctx), "relay.finish")
	defer span.End()
	span.SetAttributes(
		observability.AttrThreadID.String(sess.ThreadID),
		observability.AttrConversationID.Int64(sess.ConversationID()),
		observability.AttrOutcome.String(outcome),
	)

	reply, _ := DecodeReply(text)
	if outcome == observability.OutcomeError {
		reply.Message += ErrorSuffix
	}

	turn := Turn{
		ThreadID:         sess.ThreadID,
		ConversationID:   sess.ConversationID(),
		Message:          reply.Message,
		History:          history,
		SmartSuggestions: reply.SmartSuggestions,
		Terminated:       true,
	}
	if err := a.persister.PersistTurn(ctx, turn); err != nil {
		observability.PersistFailures.Inc()
		err = apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "persist turn").
			WithContext("thread_id", sess.ThreadID).
			WithContext("conversation_id", turn.ConversationID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist turn")
		a.logger.WithContext(ctx).Error("failed to persist turn", "error", err)
	}

	observability.TurnsCompleted.WithLabelValues(outcome).Inc()
	observability.TurnDuration.Observe(time.Since(started).Seconds())
	a.manager.release(sess, outcome)
}
