// Package reactor schedules the controller's periodic tasks inside one
// cooperative loop. Timers are elapsed-time comparisons against a float
// monotonic clock; handlers run to completion in registration order and
// return their next wake time, so nothing in the loop sleeps or blocks.
package reactor

import (
	"sync/atomic"
	"time"
)

// Timer wake time sentinels.
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// TimerCallback is called when a timer fires. The callback receives the
// event time and returns the next wake time. Return NEVER to park the
// timer.
type TimerCallback func(eventtime float64) float64

// Timer represents a registered timer.
type Timer struct {
	name     string
	callback TimerCallback
	waketime float64
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	return t.waketime
}

// Reactor manages timers and the dispatch loop. Owned by a single
// goroutine; handlers must not block.
type Reactor struct {
	timers    []*Timer
	startTime time.Time
	running   atomic.Bool
}

// New creates a new Reactor.
func New() *Reactor {
	return &Reactor{startTime: time.Now()}
}

// Monotonic returns the current monotonic time in seconds.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// RegisterTimer registers a named timer with the given callback and wake
// time. Timers fire in registration order when due at the same instant.
func (r *Reactor) RegisterTimer(name string, callback TimerCallback, waketime float64) *Timer {
	t := &Timer{name: name, callback: callback, waketime: waketime}
	r.timers = append(r.timers, t)
	return t
}

// UpdateTimer moves a timer's wake time.
func (r *Reactor) UpdateTimer(t *Timer, waketime float64) {
	t.waketime = waketime
}

// checkTimers runs every due timer once and returns the next wake time.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	next := NEVER
	for _, t := range r.timers {
		if eventtime >= t.waketime {
			t.waketime = t.callback(eventtime)
		}
		if t.waketime < next {
			next = t.waketime
		}
	}
	return next
}

// Run dispatches timers until End is called. Between wakes the loop
// sleeps only in the reactor itself, never inside a handler.
func (r *Reactor) Run() {
	r.running.Store(true)
	for r.running.Load() {
		eventtime := r.Monotonic()
		next := r.checkTimers(eventtime)
		if !r.running.Load() {
			return
		}
		if delay := next - r.Monotonic(); delay > 0 {
			if delay > 0.05 {
				delay = 0.05 // bounded slice so End stays responsive
			}
			time.Sleep(time.Duration(delay * float64(time.Second)))
		}
	}
}

// End stops the dispatch loop after the current iteration.
func (r *Reactor) End() {
	r.running.Store(false)
}
