// Package sched runs every unit of event processing on one goroutine, so the
// bot behaves like a single logical thread no matter how many connections
// feed it.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned when work is submitted to a loop that has exited.
var ErrStopped = errors.New("sched: loop stopped")

const queueSize = 64

// Loop executes submitted tasks one at a time, in submission order.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	log   *slog.Logger

	mu     sync.Mutex
	timers map[*Timer]struct{}
}

// New creates a loop. Nothing runs until Run is called.
func New(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		log:    log,
		timers: make(map[*Timer]struct{}),
	}
}

// Run processes tasks until ctx is done. Pending timers are cancelled on exit.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.once.Do(func() { close(l.done) })

	l.mu.Lock()
	timers := l.timers
	l.timers = make(map[*Timer]struct{})
	l.mu.Unlock()
	for t := range timers {
		t.cancel()
	}
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do queues fn and waits until it has run. It must not be called from a task
// already running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := l.Post(ctx, func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timer is a pending deferred callback.
type Timer struct {
	loop    *Loop
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc schedules fn to run on the loop after d. The returned Timer can
// cancel it until the moment it starts running.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		t.stopped.Store(true)
		t.t = time.NewTimer(0)
		t.t.Stop()
		return t
	default:
	}
	l.timers[t] = struct{}{}
	t.t = time.AfterFunc(d, func() {
		err := l.Post(context.Background(), func() {
			if !t.forget() {
				return
			}
			fn()
		})
		if err != nil {
			t.forget()
		}
	})
	return t
}

// Stop cancels the callback. It reports whether the callback was still
// pending.
func (t *Timer) Stop() bool {
	if !t.forget() {
		return false
	}
	t.t.Stop()
	return true
}

// forget marks the timer finished; only the first caller gets true.
func (t *Timer) forget() bool {
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	t.loop.mu.Lock()
	delete(t.loop.timers, t)
	t.loop.mu.Unlock()
	return true
}

func (t *Timer) cancel() {
	if t.stopped.CompareAndSwap(false, true) {
		t.t.Stop()
	}
}

// Pending is the number of callbacks scheduled but not yet run or stopped.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}
