package storion

import "sync"

// Lease holds a reference on an instance through a two-phase protocol.
// Commit takes the reference; Uncommit schedules its release on the
// scheduler's deferred queue, so an Uncommit followed by a Commit before the
// queue runs keeps the instance alive. UI bindings that mount, unmount and
// remount in one pass rely on this.
type Lease struct {
	inst      refCounted
	scheduler Scheduler

	mu        sync.Mutex
	committed bool
	held      bool
}

// Lease returns a new uncommitted lease on the instance
func (i *Instance[S, A]) Lease() *Lease {
	return &Lease{inst: i, scheduler: i.resolver.scheduler}
}

// Commit takes a reference unless the lease already holds one
func (l *Lease) Commit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.committed = true
	if l.held {
		return
	}
	l.held = true
	l.inst.retain()
}

// Uncommit schedules the release of the reference
func (l *Lease) Uncommit() {
	l.mu.Lock()
	if !l.committed {
		l.mu.Unlock()
		return
	}
	l.committed = false
	l.mu.Unlock()

	l.scheduler.Defer(l.settle)
}

// Committed reports whether the lease is currently committed
func (l *Lease) Committed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

func (l *Lease) settle() {
	l.mu.Lock()
	if l.committed || !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	l.inst.release()
}
