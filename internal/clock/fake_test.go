package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockAfterFuncFiresOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	fired := 0
	clock.AfterFunc(3*time.Second, func() { fired++ })

	clock.Advance(2 * time.Second)
	require.Equal(t, 0, fired)

	clock.Advance(time.Second)
	require.Equal(t, 1, fired)
	require.Equal(t, epoch.Add(3*time.Second), clock.Now())
}

func TestFakeClockStopPreventsCallback(t *testing.T) {
	clock := Fake(epoch)
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop(), "second Stop should report already stopped")

	clock.Advance(time.Minute)
	require.False(t, fired)
	require.Zero(t, clock.PendingCount())
}

func TestFakeClockChainedCallbacksWithinWindow(t *testing.T) {
	clock := Fake(epoch)
	var stamps []time.Time

	var tick func()
	tick = func() {
		stamps = append(stamps, clock.Now())
		if len(stamps) < 4 {
			clock.AfterFunc(30*time.Millisecond, tick)
		}
	}
	clock.AfterFunc(30*time.Millisecond, tick)

	clock.Advance(time.Second)
	require.Len(t, stamps, 4)
	for i, stamp := range stamps {
		require.Equal(t, epoch.Add(time.Duration(i+1)*30*time.Millisecond), stamp)
	}
	require.Equal(t, epoch.Add(time.Second), clock.Now())
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	clock.AfterFunc(time.Second, func() { order = append(order, "a") })
	clock.AfterFunc(2*time.Second, func() { order = append(order, "c") })

	clock.Advance(5 * time.Second)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFakeClockNonPositiveDurationRunsImmediately(t *testing.T) {
	clock := Fake(epoch)
	fired := false
	timer := clock.AfterFunc(0, func() { fired = true })
	require.True(t, fired)
	require.False(t, timer.Stop())
}

func TestNilTimerStop(t *testing.T) {
	var timer *Timer
	require.False(t, timer.Stop())
}
