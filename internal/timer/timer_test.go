package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-attempt/internal/testutil"
	"github.com/stemsi/exstem-attempt/internal/timer"
)

func TestGroup_SetReplacesAndStopsPrevious(t *testing.T) {
	sched := testutil.NewManualScheduler()
	g := timer.NewGroup()
	var first, second int

	g.Set("tick", sched.Every(time.Second, func() { first++ }))
	g.Set("tick", sched.Every(time.Second, func() { second++ }))
	sched.Advance(3 * time.Second)

	assert.Equal(t, 0, first)
	assert.Equal(t, 3, second)
	assert.Equal(t, 1, sched.Pending())
}

func TestGroup_CancelAndStopAll(t *testing.T) {
	sched := testutil.NewManualScheduler()
	g := timer.NewGroup()
	var fired int

	g.Set("a", sched.AfterFunc(time.Second, func() { fired++ }))
	g.Set("b", sched.Every(time.Second, func() { fired++ }))
	g.Cancel("a")
	assert.False(t, g.Has("a"))
	assert.True(t, g.Has("b"))

	g.StopAll()
	sched.Advance(5 * time.Second)

	assert.Equal(t, 0, fired)
	assert.False(t, g.Has("b"))
	assert.Equal(t, 0, sched.Pending())
}

func TestSystem_EveryStopsFromCallback(t *testing.T) {
	var n atomic.Int32
	done := make(chan struct{})
	self := make(chan timer.Timer, 1)
	self <- timer.NewSystem().Every(5*time.Millisecond, func() {
		if n.Add(1) == 3 {
			(<-self).Stop()
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic timer never reached three runs")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), n.Load())
}

func TestSystem_AfterFuncStop(t *testing.T) {
	var fired atomic.Bool
	tm := timer.NewSystem().AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	tm.Stop()
	tm.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}
