// Package timer provides cancellable scheduled tasks owned by the session
// controller and the viewport handshake. Nothing here keeps ambient state:
// every task is held, and stopped, by its owner.
package timer

import (
	"sync"
	"time"
)

// Timer is a scheduled task. Stop is idempotent and safe to call from the
// task's own callback.
type Timer interface {
	Stop()
}

// Scheduler creates one-shot and periodic tasks.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// System schedules on the runtime's timers.
type System struct{}

// NewSystem returns the wall-clock scheduler.
func NewSystem() System { return System{} }

type afterTimer struct {
	t *time.Timer
}

func (a afterTimer) Stop() { a.t.Stop() }

// AfterFunc runs f once after d on its own goroutine.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return afterTimer{t: time.AfterFunc(d, f)}
}

type periodic struct {
	stop chan struct{}
	once sync.Once
}

func (p *periodic) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// Every runs f every d until stopped. Invocations never overlap: a slow f
// delays the next one instead of running concurrently with it.
func (System) Every(d time.Duration, f func()) Timer {
	p := &periodic{stop: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				select {
				case <-p.stop:
					return
				default:
				}
				f()
			}
		}
	}()
	return p
}

// Group tracks the timers of one owner so teardown can cancel all of them.
type Group struct {
	mu     sync.Mutex
	timers map[string]Timer
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{timers: make(map[string]Timer)}
}

// Set stores t under name, stopping whatever was there before.
func (g *Group) Set(name string, t Timer) {
	g.mu.Lock()
	prev := g.timers[name]
	g.timers[name] = t
	g.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

// Cancel stops and forgets the timer stored under name.
func (g *Group) Cancel(name string) {
	g.mu.Lock()
	t := g.timers[name]
	delete(g.timers, name)
	g.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Has reports whether a timer is stored under name.
func (g *Group) Has(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.timers[name]
	return ok
}

// StopAll stops every timer in the group.
func (g *Group) StopAll() {
	g.mu.Lock()
	timers := g.timers
	g.timers = make(map[string]Timer)
	g.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}
