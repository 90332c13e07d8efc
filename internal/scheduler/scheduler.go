// Package scheduler provides a single-goroutine deadline scheduler. All
// callbacks run sequentially on the goroutine that calls Run, which preserves
// the cooperative, timer-driven execution model the engines rely on: no two
// callbacks ever overlap, and a callback scheduled from within another runs
// on the same goroutine.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Task is a handle for a scheduled callback.
type Task struct {
	deadline time.Time
	period   time.Duration // 0 for single-shot
	fn       func()
	seq      uint64
	index    int // heap index, -1 when not queued

	cancelled bool
}

// Cancel prevents the task from running again. Safe to call from within a
// callback.
func (t *Task) Cancel() {
	t.cancelled = true
}

// Scheduler runs deferred callbacks in deadline order.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   uint64
	wake  chan struct{}
	now   func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates an idle scheduler.
func New(options ...Option) *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// After schedules fn to run once after delay d.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	return s.add(d, 0, fn)
}

// Every schedules fn to run repeatedly with period d. The first run happens
// after one full period.
func (s *Scheduler) Every(d time.Duration, fn func()) *Task {
	return s.add(d, d, fn)
}

func (s *Scheduler) add(d, period time.Duration, fn func()) *Task {
	s.mu.Lock()
	s.seq++
	t := &Task{
		deadline: s.now().Add(d),
		period:   period,
		fn:       fn,
		seq:      s.seq,
	}
	heap.Push(&s.tasks, t)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t
}

// CancelAll drops every pending task. Callbacks already running complete.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	for _, t := range s.tasks {
		t.cancelled = true
	}
	s.tasks = nil
	s.mu.Unlock()
}

// Run executes tasks until ctx is cancelled. It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.runDue()

		s.mu.Lock()
		var wait time.Duration
		if len(s.tasks) == 0 {
			wait = time.Hour
		} else {
			wait = s.tasks[0].deadline.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.CancelAll()
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// runDue pops and executes every task whose deadline has passed.
func (s *Scheduler) runDue() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 || s.tasks[0].deadline.After(s.now()) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.tasks).(*Task)
		s.mu.Unlock()

		if t.cancelled {
			continue
		}
		t.fn()

		if t.period > 0 && !t.cancelled {
			s.mu.Lock()
			t.deadline = s.now().Add(t.period)
			heap.Push(&s.tasks, t)
			s.mu.Unlock()
		}
	}
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
