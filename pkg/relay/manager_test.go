package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
)

func TestManager_GetOrCreateSingleFlight(t *testing.T) {
	b := bus.NewMemoryBus()
	m := NewManager(b, nil, nil)

	const callers = 32
	var wg sync.WaitGroup
	got := make([]*Session, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.GetOrCreate(context.Background(), "t1", 1)
			assert.NoError(t, err)
			got[i] = sess
		}(i)
	}
	wg.Wait()

	for _, sess := range got {
		assert.Same(t, got[0], sess)
	}
	assert.Equal(t, 1, b.Dials())
	assert.Equal(t, 1, m.Len())

	other, err := m.GetOrCreate(context.Background(), "t2", 2)
	require.NoError(t, err)
	assert.NotSame(t, got[0], other)
	assert.Equal(t, 2, m.Len())
}

func TestManager_DialFailureRegistersNothing(t *testing.T) {
	b := bus.NewMemoryBus()
	b.DialErr = errors.New("connection refused")
	m := NewManager(b, nil, nil)

	_, err := m.GetOrCreate(context.Background(), "t1", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBrokerConnect))
	assert.ErrorIs(t, err, bus.ErrDialFailed)
	assert.Zero(t, m.Len())
}

func TestManager_CleanupIsIdempotent(t *testing.T) {
	b := bus.NewMemoryBus()
	m := NewManager(b, nil, nil)

	sess, err := m.GetOrCreate(context.Background(), "t1", 1)
	require.NoError(t, err)
	stream, err := sess.conn.Subscribe(sess.ctx, "chat.client.messages.u.d.t1")
	require.NoError(t, err)
	require.True(t, m.AddSubscription("t1", "chat.client.messages.u.d.t1", stream))
	m.Guard().Arm("t1", func() { t.Error("timer must be canceled by cleanup") })

	assert.True(t, m.Cleanup("t1"))
	assert.False(t, m.Cleanup("t1"))
	assert.False(t, m.Cleanup("unknown"))

	assert.Zero(t, m.Len())
	assert.Zero(t, b.OpenConns())
	assert.Zero(t, b.Subscribers("chat.client.messages.u.d.t1"))
	assert.False(t, m.Guard().Armed("t1"))
	assert.Error(t, sess.ctx.Err(), "consumer context is canceled")
}

func TestManager_MutatorsOnMissingSession(t *testing.T) {
	b := bus.NewMemoryBus()
	m := NewManager(b, nil, nil)

	conn, err := b.Dial(context.Background(), "other")
	require.NoError(t, err)
	stream, err := conn.Subscribe(context.Background(), "s")
	require.NoError(t, err)

	assert.False(t, m.AddSubscription("gone", "s", stream))
	assert.Zero(t, b.Subscribers("s"), "orphan subscription is stopped")
	assert.False(t, m.ClearBuffer("gone"))
	assert.False(t, m.SetConversationID("gone", 5))
}

func TestManager_Mutators(t *testing.T) {
	m := NewManager(bus.NewMemoryBus(), nil, nil)

	sess, err := m.GetOrCreate(context.Background(), "t1", 1)
	require.NoError(t, err)

	_, ok := sess.appendFragment("partial")
	require.True(t, ok)
	assert.Equal(t, "partial", sess.LastFragment())

	assert.True(t, m.SetConversationID("t1", 9))
	assert.Equal(t, int64(9), sess.ConversationID())

	assert.True(t, m.ClearBuffer("t1"))
	assert.Empty(t, sess.Buffer())
	assert.Empty(t, sess.LastFragment())
}

func TestManager_LateReleaseKeepsNewerSession(t *testing.T) {
	b := bus.NewMemoryBus()
	m := NewManager(b, nil, nil)
	ctx := context.Background()

	old, err := m.GetOrCreate(ctx, "t1", 1)
	require.NoError(t, err)
	require.True(t, m.release(old, "test"))

	fresh, err := m.GetOrCreate(ctx, "t1", 2)
	require.NoError(t, err)
	require.NotSame(t, old, fresh)

	assert.False(t, m.release(old, "late"))
	assert.Same(t, fresh, m.Get("t1"))
	assert.Equal(t, 1, b.OpenConns())
}

func TestManager_Shutdown(t *testing.T) {
	b := bus.NewMemoryBus()
	m := NewManager(b, nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.GetOrCreate(context.Background(), id, 1)
		require.NoError(t, err)
	}

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Zero(t, m.Len())
	assert.Zero(t, b.OpenConns())
}
