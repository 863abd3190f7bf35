package view

import (
	"slices"
	"time"

	"github.com/wesm/msgdb/internal/loop"
)

// throttle rate-limits row fetches for items a view has not fetched yet.
// Requests over the per-window limit are queued and resolved a few at a
// time, most recent first, on a periodic tick.
type throttle struct {
	sched    loop.Scheduler
	limit    int
	batch    int
	capacity int
	window   time.Duration
	tick     time.Duration
	resolve  func(gid uint32)

	windowStart time.Time
	count       int
	queue       []uint32 // oldest first
	timer       loop.Timer
}

func newThrottle(sched loop.Scheduler, opts *Options, resolve func(gid uint32)) *throttle {
	return &throttle{
		sched:    sched,
		limit:    opts.FetchLimit,
		batch:    opts.FetchBatch,
		capacity: opts.FetchQueue,
		window:   opts.FetchWindow,
		tick:     opts.FetchTick,
		resolve:  resolve,
	}
}

// allow counts one fetch against the current window and reports whether
// it may run now.
func (t *throttle) allow() bool {
	now := t.sched.Now()
	if t.windowStart.IsZero() || now.Sub(t.windowStart) >= t.window {
		t.windowStart = now
		t.count = 0
	}
	t.count++
	return t.count <= t.limit
}

// deferFetch queues gid for a later fetch, dropping the oldest request when
// the queue is full. A gid already queued moves to the most recent end.
func (t *throttle) deferFetch(gid uint32) {
	t.forget(gid)
	t.queue = append(t.queue, gid)
	if len(t.queue) > t.capacity {
		t.queue = t.queue[len(t.queue)-t.capacity:]
	}
	if t.timer == nil {
		t.timer = t.sched.AfterFunc(t.tick, t.run)
	}
}

func (t *throttle) run() {
	t.timer = nil
	n := min(t.batch, len(t.queue))
	due := make([]uint32, 0, n)
	for range n {
		last := len(t.queue) - 1
		due = append(due, t.queue[last])
		t.queue = t.queue[:last]
	}
	for _, gid := range due {
		t.resolve(gid)
	}
	if len(t.queue) > 0 && t.timer == nil {
		t.timer = t.sched.AfterFunc(t.tick, t.run)
	}
}

// forget drops a queued request.
func (t *throttle) forget(gid uint32) {
	for i, q := range t.queue {
		if q == gid {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}

func (t *throttle) queued() int { return len(t.queue) }

func (t *throttle) isQueued(gid uint32) bool { return slices.Contains(t.queue, gid) }

func (t *throttle) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.queue = nil
}
