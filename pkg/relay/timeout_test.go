package relay

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutGuard_Fires(t *testing.T) {
	g := NewTimeoutGuard(20 * time.Millisecond)
	var fired atomic.Int32

	g.Arm("t1", func() { fired.Add(1) })
	assert.True(t, g.Armed("t1"))

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, g.Armed("t1"))
	assert.False(t, g.Cancel("t1"), "a fired timer is no longer armed")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTimeoutGuard_RearmReplacesTimer(t *testing.T) {
	g := NewTimeoutGuard(30 * time.Millisecond)
	var first, second atomic.Int32

	g.Arm("t1", func() { first.Add(1) })
	g.Arm("t1", func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestTimeoutGuard_Cancel(t *testing.T) {
	g := NewTimeoutGuard(20 * time.Millisecond)
	var fired atomic.Int32

	g.Arm("t1", func() { fired.Add(1) })
	assert.True(t, g.Cancel("t1"))
	assert.False(t, g.Cancel("t1"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestTimeoutGuard_ThreadsAreIndependent(t *testing.T) {
	g := NewTimeoutGuard(20 * time.Millisecond)
	var a, b atomic.Int32

	g.Arm("a", func() { a.Add(1) })
	g.Arm("b", func() { b.Add(1) })
	g.Cancel("a")

	assert.Eventually(t, func() bool { return b.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, a.Load())
}

func TestTimeoutGuard_DefaultWindow(t *testing.T) {
	assert.Equal(t, DefaultResponseTimeout, NewTimeoutGuard(0).Window())
	assert.Equal(t, 45*time.Second, DefaultResponseTimeout)
}

func TestTimeoutGuard_Stop(t *testing.T) {
	g := NewTimeoutGuard(20 * time.Millisecond)
	var fired atomic.Int32
	g.Arm("a", func() { fired.Add(1) })
	g.Arm("b", func() { fired.Add(1) })

	g.Stop()
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
