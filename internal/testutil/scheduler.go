package testutil

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-attempt/internal/timer"
)

// ManualScheduler is a deterministic timer.Scheduler for tests.
//
// Time only moves when Advance is called; due tasks run synchronously on the
// caller's goroutine in due order (ties broken by creation order). Callbacks
// may schedule or stop other tasks.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	s       *ManualScheduler
	id      int
	due     time.Duration
	period  time.Duration
	f       func()
	stopped bool
}

// NewManualScheduler creates a scheduler at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (t *manualTask) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.stopped = true
}

// AfterFunc schedules f once, d from now.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) timer.Timer {
	return s.add(d, 0, f)
}

// Every schedules f every d.
func (s *ManualScheduler) Every(d time.Duration, f func()) timer.Timer {
	return s.add(d, d, f)
}

func (s *ManualScheduler) add(d, period time.Duration, f func()) *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTask{s: s, id: s.seq, due: s.now + d, period: period, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves time forward by d, running every task that falls due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.due
		if next.period > 0 {
			next.due += next.period
		} else {
			next.stopped = true
		}
		s.mu.Unlock()

		next.f()
	}
}

func (s *ManualScheduler) nextDue(target time.Duration) *manualTask {
	var best *manualTask
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if t.due > target {
			continue
		}
		if best == nil || t.due < best.due || (t.due == best.due && t.id < best.id) {
			best = t
		}
	}
	s.tasks = live
	return best
}

// Pending returns the number of live tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Now returns the elapsed scheduler time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}
