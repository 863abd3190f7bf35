// Package loop provides the single-threaded scheduler the message engine
// runs on. All database, indexer and view mutations happen on one goroutine;
// timers and work posted from other goroutines are funnelled onto it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Call when the loop is no longer running.
var ErrStopped = errors.New("loop stopped")

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the callback was still
	// pending.
	Stop() bool
}

// Scheduler is the clock and timer source used by the engine.
// Callbacks scheduled with AfterFunc run on the scheduler's goroutine.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is a Scheduler backed by a goroutine draining a task queue.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *slog.Logger
}

// New creates a loop. Run must be called for posted work to execute.
func New() *Loop {
	return &Loop{
		tasks:  make(chan func(), 256),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the loop.
func (l *Loop) WithLogger(logger *slog.Logger) *Loop {
	l.logger = logger
	return l
}

// Run executes posted tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn to run on the loop goroutine. Tasks posted after the loop
// stopped are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Call runs fn on the loop goroutine and waits for its result. A panic in
// fn is returned as an error.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("loop task panicked", "panic", r)
				errc <- fmt.Errorf("loop task panicked: %v", r)
			}
		}()
		errc <- fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns the wall clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc runs fn on the loop goroutine after d elapses.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.fired.Store(true)
			fn()
		})
	})
	return t
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.t.Stop()
	if t.fired.Load() {
		return false
	}
	return !t.stopped.Swap(true)
}
