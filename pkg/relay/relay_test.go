package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
)

const (
	testThread        = "t1"
	testClientSubject = "chat.client.messages.u1.d1.t1"
	testServerSubject = "chat.server.messages.u1.d1.t1"
)

// fakeAgent plays the agent side of the broker.
type fakeAgent struct {
	t        *testing.T
	conn     bus.Conn
	requests bus.Stream
}

func newFakeAgent(t *testing.T, b *bus.MemoryBus) *fakeAgent {
	t.Helper()
	conn, err := b.Dial(context.Background(), "agent")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	requests, err := conn.Subscribe(context.Background(), "chat.server.>")
	require.NoError(t, err)
	return &fakeAgent{t: t, conn: conn, requests: requests}
}

func (a *fakeAgent) nextRequest() (*bus.Message, payload) {
	a.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := a.requests.Next(ctx)
	require.NoError(a.t, err)
	var p payload
	require.NoError(a.t, json.Unmarshal(msg.Data, &p))
	return msg, p
}

func (a *fakeAgent) send(kind Kind, text string) {
	a.t.Helper()
	data := fmt.Sprintf(`{"type":%q,"data":{"msg":%q}}`, kind, text)
	require.NoError(a.t, a.conn.Publish(context.Background(), testClientSubject, []byte(data)))
}

func (a *fakeAgent) sendRaw(data string) {
	a.t.Helper()
	require.NoError(a.t, a.conn.Publish(context.Background(), testClientSubject, []byte(data)))
}

func newTestRelay(t *testing.T, cfg Config, b *bus.MemoryBus, p Persister, e Emitter) *Relay {
	t.Helper()
	r := New(cfg, b, p, e, nil)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func testRequest() Request {
	return Request{
		UserID:         "u1",
		ThreadID:       testThread,
		TeamID:         "team-1",
		DeploymentID:   "d1",
		ConversationID: 9,
		Message:        "hello agents",
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn to finish")
	}
}

func TestRelay_StreamsAndPersistsTurn(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 5 * time.Second, RearmOnFragment: true}, b, persister, emitter)

	done := make(chan struct{})
	gomock.InOrder(
		emitter.EXPECT().NewMessageFromTeam(testThread, "A"),
		emitter.EXPECT().NewMessageFromTeam(testThread, "AB"),
		persister.EXPECT().PersistTurn(gomock.Any(), Turn{
			ThreadID:         testThread,
			ConversationID:   9,
			Message:          "C",
			History:          "AB",
			SmartSuggestions: []string{},
			Terminated:       true,
		}).Return(nil),
		emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) }),
	)

	require.NoError(t, r.Send(context.Background(), testRequest()))

	msg, p := agent.nextRequest()
	assert.Equal(t, testServerSubject, msg.Subject)
	assert.Equal(t, payload{UserID: "u1", ThreadID: testThread, TeamID: "team-1", Message: "hello agents", DeploymentID: "d1"}, p)

	agent.send(KindPrint, "A")
	agent.send(KindPrint, "B")
	agent.send(KindTerminate, "C")
	waitClosed(t, done)

	assert.Zero(t, r.Manager().Len())
	assert.Eventually(t, func() bool { return b.OpenConns() == 1 }, time.Second, 5*time.Millisecond, "only the agent connection stays open")
	assert.False(t, r.Manager().Guard().Armed(testThread))
}

func TestRelay_InitiatePublishesKickoffSubject(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 5 * time.Second}, b, NewMockPersister(ctrl), NewMockEmitter(ctrl))

	req := testRequest()
	req.Initiate = true
	require.NoError(t, r.Send(context.Background(), req))

	msg, p := agent.nextRequest()
	assert.Equal(t, "chat.server.initiate_chat", msg.Subject)
	assert.Equal(t, testThread, p.ThreadID)
	assert.Equal(t, 1, b.Subscribers(testClientSubject), "output is consumed from the first contact")
}

func TestRelay_TimeoutFiresOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	r := newTestRelay(t, Config{ResponseTimeout: 30 * time.Millisecond}, b, persister, emitter)

	done := make(chan struct{})
	persister.EXPECT().PersistTurn(gomock.Any(), Turn{
		ThreadID:         testThread,
		ConversationID:   9,
		Message:          TimeoutMessage,
		SmartSuggestions: []string{},
		Terminated:       true,
	}).Return(nil).Times(1)
	emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) }).Times(1)

	require.NoError(t, r.Send(context.Background(), testRequest()))
	waitClosed(t, done)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, r.Manager().Len())
	assert.Zero(t, b.OpenConns())
}

func TestRelay_ErrorMessageEndsTurnEvenIfPersistFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 5 * time.Second}, b, persister, emitter)

	done := make(chan struct{})
	persister.EXPECT().PersistTurn(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, turn Turn) error {
		assert.Equal(t, "boom"+ErrorSuffix, turn.Message)
		assert.True(t, turn.Terminated)
		return errors.New("database is locked")
	})
	emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) })

	require.NoError(t, r.Send(context.Background(), testRequest()))
	agent.nextRequest()
	agent.send(KindError, "boom")
	waitClosed(t, done)

	assert.Zero(t, r.Manager().Len())
}

func TestRelay_UndecodableMessagesFallBackToText(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 5 * time.Second}, b, persister, emitter)

	done := make(chan struct{})
	gomock.InOrder(
		emitter.EXPECT().NewMessageFromTeam(testThread, "raw text"),
		persister.EXPECT().PersistTurn(gomock.Any(), Turn{
			ThreadID:         testThread,
			ConversationID:   9,
			Message:          "final",
			History:          "raw text",
			SmartSuggestions: []string{"more", "stop"},
			Terminated:       true,
		}).Return(nil),
		emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) }),
	)

	require.NoError(t, r.Send(context.Background(), testRequest()))
	agent.nextRequest()
	agent.sendRaw("raw text")
	agent.sendRaw(`{"type":"input","data":{"msg":"ignored"}}`)
	agent.send(KindTerminate, `{"message":"final","smart_suggestions":["more","stop"]}`)
	waitClosed(t, done)
}

func TestRelay_RearmOnFragmentKeepsLongTurnAlive(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 300 * time.Millisecond, RearmOnFragment: true}, b, persister, emitter)

	done := make(chan struct{})
	emitter.EXPECT().NewMessageFromTeam(testThread, gomock.Any()).Times(4)
	persister.EXPECT().PersistTurn(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, turn Turn) error {
		assert.Equal(t, "done", turn.Message)
		assert.Equal(t, "....", turn.History)
		return nil
	})
	emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) })

	require.NoError(t, r.Send(context.Background(), testRequest()))
	agent.nextRequest()
	for i := 0; i < 4; i++ {
		time.Sleep(150 * time.Millisecond)
		agent.send(KindPrint, ".")
	}
	agent.send(KindTerminate, "done")
	waitClosed(t, done)
}

func TestRelay_UnknownMessagesKeepTurnAlive(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 300 * time.Millisecond, RearmOnFragment: true}, b, persister, emitter)

	done := make(chan struct{})
	persister.EXPECT().PersistTurn(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, turn Turn) error {
		assert.Equal(t, "done", turn.Message)
		return nil
	})
	emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) })

	require.NoError(t, r.Send(context.Background(), testRequest()))
	agent.nextRequest()
	for i := 0; i < 4; i++ {
		time.Sleep(150 * time.Millisecond)
		agent.send(Kind("input"), "waiting for user")
	}
	agent.send(KindTerminate, "done")
	waitClosed(t, done)
}

func TestRelay_FragmentCancelsTimeoutWithoutRearm(t *testing.T) {
	ctrl := gomock.NewController(t)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 30 * time.Millisecond, RearmOnFragment: false}, b, NewMockPersister(ctrl), emitter)

	got := make(chan struct{})
	emitter.EXPECT().NewMessageFromTeam(testThread, "A").Do(func(string, string) { close(got) })

	require.NoError(t, r.Send(context.Background(), testRequest()))
	agent.nextRequest()
	agent.send(KindPrint, "A")
	waitClosed(t, got)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, r.Manager().Guard().Armed(testThread))
	assert.Equal(t, 1, r.Manager().Len(), "the turn stays open without a timer")
}

func TestRelay_DialFailureIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := bus.NewMemoryBus()
	b.DialErr = errors.New("connection refused")
	r := newTestRelay(t, DefaultConfig(), b, NewMockPersister(ctrl), NewMockEmitter(ctrl))

	err := r.Send(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBrokerConnect))
	assert.Zero(t, r.Manager().Len())
	assert.False(t, r.Manager().Guard().Armed(testThread))
}

func TestRelay_SubscribeFailureEndsInTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	b.SubscribeErr = errors.New("permissions violation")
	r := newTestRelay(t, Config{ResponseTimeout: 30 * time.Millisecond}, b, persister, emitter)

	done := make(chan struct{})
	persister.EXPECT().PersistTurn(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, turn Turn) error {
		assert.Equal(t, TimeoutMessage, turn.Message)
		return nil
	})
	emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { close(done) })

	require.NoError(t, r.Send(context.Background(), testRequest()))
	waitClosed(t, done)
}

func TestRelay_InvalidThreadIsRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := bus.NewMemoryBus()
	r := newTestRelay(t, DefaultConfig(), b, NewMockPersister(ctrl), NewMockEmitter(ctrl))

	req := testRequest()
	req.ThreadID = "t1.>"
	err := r.Send(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
	assert.Zero(t, b.Dials())
}

func TestRelay_SecondTurnOpensFreshSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	persister := NewMockPersister(ctrl)
	emitter := NewMockEmitter(ctrl)
	b := bus.NewMemoryBus()
	agent := newFakeAgent(t, b)
	r := newTestRelay(t, Config{ResponseTimeout: 5 * time.Second}, b, persister, emitter)

	finished := make(chan struct{}, 2)
	persister.EXPECT().PersistTurn(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	emitter.EXPECT().StreamFromTeamFinished(testThread).Do(func(string) { finished <- struct{}{} }).Times(2)

	for turn := 0; turn < 2; turn++ {
		require.NoError(t, r.Send(context.Background(), testRequest()))
		agent.nextRequest()
		agent.send(KindTerminate, "ok")
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatalf("turn %d did not finish", turn)
		}
	}
	assert.Equal(t, 3, b.Dials(), "agent plus one connection per turn")
}

func TestAggregator_DropsMessagesAfterRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewManager(bus.NewMemoryBus(), nil, nil)
	a := NewAggregator(m, NewMockPersister(ctrl), NewMockEmitter(ctrl), nil)

	sess, err := m.GetOrCreate(context.Background(), testThread, 1)
	require.NoError(t, err)
	require.True(t, m.Cleanup(testThread))

	a.Handle(context.Background(), sess, &bus.Message{Subject: testClientSubject, Data: []byte(`{"type":"print","data":{"msg":"late"}}`)})
	a.Handle(context.Background(), sess, &bus.Message{Subject: testClientSubject, Data: []byte(`{"type":"terminate","data":{"msg":"late"}}`)})
	a.Timeout(sess)
}

func TestPersisterFunc(t *testing.T) {
	var got Turn
	p := PersisterFunc(func(_ context.Context, turn Turn) error {
		got = turn
		return nil
	})
	require.NoError(t, p.PersistTurn(context.Background(), Turn{ThreadID: "x"}))
	assert.Equal(t, "x", got.ThreadID)
}
