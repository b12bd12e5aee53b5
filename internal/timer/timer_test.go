package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArmTicksThenExpiresOnce(t *testing.T) {
	tm := New(2 * time.Millisecond)

	var (
		mu    sync.Mutex
		ticks []int
	)
	expired := make(chan struct{}, 4)
	tm.Arm(3, func(elapsed int) {
		mu.Lock()
		ticks = append(ticks, elapsed)
		mu.Unlock()
	}, func() {
		expired <- struct{}{}
	})

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}

	// no second expiry after self-disarm
	time.Sleep(20 * time.Millisecond)
	require.Len(t, expired, 0)
	require.False(t, tm.Armed())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, ticks)
}

func TestDisarmPreventsExpiry(t *testing.T) {
	tm := New(5 * time.Millisecond)

	var expired atomic.Int32
	tm.Arm(4, nil, func() { expired.Add(1) })
	require.True(t, tm.Armed())

	tm.Disarm()
	tm.Disarm()
	require.False(t, tm.Armed())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), expired.Load())
}

func TestRearmDropsStaleSession(t *testing.T) {
	tm := New(3 * time.Millisecond)

	var stale atomic.Int32
	tm.Arm(2, nil, func() { stale.Add(1) })

	fresh := make(chan struct{}, 1)
	tm.Arm(5, nil, func() { fresh <- struct{}{} })

	select {
	case <-fresh:
	case <-time.After(2 * time.Second):
		t.Fatal("re-armed timer did not expire")
	}
	require.Equal(t, int32(0), stale.Load())
}

func TestDisarmWithoutArmIsNoop(t *testing.T) {
	tm := New(0)
	require.Equal(t, time.Second, tm.interval)
	tm.Disarm()
	require.False(t, tm.Armed())
}
