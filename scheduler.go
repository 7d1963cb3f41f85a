package storion

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs deferred lifecycle work: Defer is the "after the current
// callback" queue used by the commit/uncommit protocol, After drives
// auto-dispose grace periods.
type Scheduler interface {
	Defer(task func())
	After(d time.Duration, task func()) (cancel func())
}

type timerScheduler struct{}

// NewTimerScheduler returns a scheduler backed by time.AfterFunc. Tasks run
// on timer goroutines, concurrently with the caller, so a Defer may settle
// before a synchronous Uncommit/Commit pair completes. Use it only when the
// host serializes access and tolerates that.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) Defer(task func()) {
	time.AfterFunc(0, task)
}

func (timerScheduler) After(d time.Duration, task func()) func() {
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, task)
	return func() { t.Stop() }
}

// QueueScheduler is a host-driven scheduler with a virtual clock. Nothing runs
// until Flush or Advance is called, which makes it suitable for event loops and
// deterministic tests.
type QueueScheduler struct {
	mu       sync.Mutex
	now      time.Duration
	seq      int
	deferred []func()
	timers   []*queuedTimer
}

type queuedTimer struct {
	at        time.Duration
	seq       int
	task      func()
	cancelled bool
}

// NewQueueScheduler creates an empty queue scheduler
func NewQueueScheduler() *QueueScheduler {
	return &QueueScheduler{}
}

// Defer queues task for the next Flush
func (q *QueueScheduler) Defer(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deferred = append(q.deferred, task)
}

// After queues task to run once the virtual clock has advanced by d
func (q *QueueScheduler) After(d time.Duration, task func()) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if d < 0 {
		d = 0
	}
	q.seq++
	t := &queuedTimer{at: q.now + d, seq: q.seq, task: task}
	q.timers = append(q.timers, t)

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		t.cancelled = true
	}
}

// Flush runs deferred tasks and due timers until nothing is runnable
func (q *QueueScheduler) Flush() {
	for {
		task := q.next()
		if task == nil {
			return
		}
		task()
	}
}

// Advance moves the virtual clock forward and flushes
func (q *QueueScheduler) Advance(d time.Duration) {
	q.mu.Lock()
	q.now += d
	q.mu.Unlock()
	q.Flush()
}

// Pending returns the number of queued deferred tasks and live timers
func (q *QueueScheduler) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.deferred)
	for _, t := range q.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (q *QueueScheduler) next() func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.deferred) > 0 {
		task := q.deferred[0]
		q.deferred = q.deferred[1:]
		return task
	}

	live := q.timers[:0]
	for _, t := range q.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	q.timers = live

	sort.SliceStable(q.timers, func(i, j int) bool {
		if q.timers[i].at == q.timers[j].at {
			return q.timers[i].seq < q.timers[j].seq
		}
		return q.timers[i].at < q.timers[j].at
	})

	if len(q.timers) > 0 && q.timers[0].at <= q.now {
		t := q.timers[0]
		q.timers = q.timers[1:]
		return t.task
	}
	return nil
}
