package orch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimersFireOnce(t *testing.T) {
	tm := NewTimers()
	var fired atomic.Int32
	tm.Schedule("c1", 10*time.Millisecond, func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return tm.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, tm.Cancel("c1"))
}

func TestTimersCancelAndReplace(t *testing.T) {
	tm := NewTimers()
	var first, second atomic.Int32
	tm.Schedule("c1", 20*time.Millisecond, func() { first.Add(1) })
	tm.Schedule("c1", 20*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, tm.Len())
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, first.Load())

	tm.Schedule("c2", time.Hour, func() { t.Error("cancelled timer fired") })
	assert.True(t, tm.Cancel("c2"))
	tm.Schedule("c3", time.Hour, func() { t.Error("stopped timer fired") })
	tm.StopAll()
	assert.Zero(t, tm.Len())
}

func TestCloseWaitsForRunningTimeout(t *testing.T) {
	o := New(Deps{}, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	var notified atomic.Bool

	o.schedule("c1", time.Millisecond, func() {
		close(started)
		<-release
		o.async(func(context.Context) { notified.Store(true) })
	})
	<-started

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	assert.Never(t, func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, notified.Load())
}

func TestNoTimeoutsAfterClose(t *testing.T) {
	o := New(Deps{}, Options{})
	o.Close()

	var fired atomic.Bool
	o.schedule("c1", time.Millisecond, func() { fired.Store(true) })
	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load())

	ran := false
	o.async(func(context.Context) { ran = true })
	assert.True(t, ran)
}
