package loop

import (
	"container/heap"
	"time"
)

// Virtual is a manually advanced Scheduler. Callbacks run synchronously
// inside Advance, in due order; callbacks due at the same instant run in
// the order they were scheduled.
type Virtual struct {
	now   time.Time
	seq   uint64
	tasks taskHeap
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	return v.now
}

// AfterFunc schedules fn to run once the clock has advanced by d.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTask{due: v.now.Add(d), seq: v.seq, fn: fn}
	heap.Push(&v.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every callback that falls
// due, including ones scheduled by callbacks during the advance. It returns
// the number of callbacks run.
func (v *Virtual) Advance(d time.Duration) int {
	target := v.now.Add(d)
	ran := 0
	for v.tasks.Len() > 0 {
		next := v.tasks[0]
		if next.due.After(target) {
			break
		}
		heap.Pop(&v.tasks)
		if next.stopped {
			continue
		}
		if next.due.After(v.now) {
			v.now = next.due
		}
		next.fired = true
		next.fn()
		ran++
	}
	v.now = target
	return ran
}

// RunPending runs callbacks that are already due without moving the clock.
func (v *Virtual) RunPending() int {
	return v.Advance(0)
}

// Pending returns the number of callbacks that have not yet run or been
// stopped.
func (v *Virtual) Pending() int {
	n := 0
	for _, t := range v.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

type virtualTask struct {
	due     time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
	index   int
}

func (t *virtualTask) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type taskHeap []*virtualTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*virtualTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
