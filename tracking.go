package storion

// depKey identifies a tracked dependency: a state field, or a pick entry
// with an empty key.
type depKey struct {
	source any
	key    string
}

// dependency is one recorded read. subscribe is the lazily bound resubscribe
// callback: it attaches listener to whatever will change the read value.
type dependency struct {
	key       depKey
	subscribe func(listener func()) (unsubscribe func())
}

type collector struct {
	deps []dependency
	seen map[depKey]struct{}
}

func (c *collector) add(d dependency) {
	if c.seen == nil {
		c.seen = make(map[depKey]struct{})
	}
	if _, ok := c.seen[d.key]; ok {
		return
	}
	c.seen[d.key] = struct{}{}
	c.deps = append(c.deps, d)
}

// tracking is the arena shared by every resolver of one root: the stack of
// active collectors plus the batch queue. It is owned by a single goroutine.
type tracking struct {
	collectors []*collector
	untracked  int
	batchDepth int
	queue      []func()

	flushing  bool
	later     []func()
	laterSeen map[any]struct{}
}

func newTracking() *tracking {
	return &tracking{}
}

func (t *tracking) current() *collector {
	if t.untracked > 0 || len(t.collectors) == 0 {
		return nil
	}
	return t.collectors[len(t.collectors)-1]
}

func (t *tracking) track(d dependency) {
	if c := t.current(); c != nil {
		c.add(d)
	}
}

// collect runs fn with a fresh collector and returns the reads it recorded.
// Reads of an enclosing collector are not affected.
func (t *tracking) collect(fn func()) []dependency {
	c := &collector{}
	saved := t.untracked
	t.untracked = 0
	t.collectors = append(t.collectors, c)
	defer func() {
		t.collectors = t.collectors[:len(t.collectors)-1]
		t.untracked = saved
	}()

	fn()
	return c.deps
}

func (t *tracking) untrack(fn func()) {
	t.untracked++
	defer func() { t.untracked-- }()
	fn()
}

// batch defers notifications until the outermost batch returns
func (t *tracking) batch(fn func()) {
	t.batchDepth++
	defer func() {
		t.batchDepth--
		if t.batchDepth == 0 {
			t.flush()
		}
	}()
	fn()
}

func (t *tracking) notify(fn func()) {
	if t.batchDepth > 0 {
		t.queue = append(t.queue, fn)
		return
	}
	fn()
}

// deferUntilFlushed queues fn under key while a batch is open or being
// flushed, and reports whether it did. A key is queued at most once per
// flush, so an effect touched by several writes of one batch runs once.
func (t *tracking) deferUntilFlushed(key any, fn func()) bool {
	if t.batchDepth == 0 && !t.flushing {
		return false
	}
	if t.laterSeen == nil {
		t.laterSeen = make(map[any]struct{})
	}
	if _, ok := t.laterSeen[key]; ok {
		return true
	}
	t.laterSeen[key] = struct{}{}
	t.later = append(t.later, fn)
	return true
}

func (t *tracking) flush() {
	if t.flushing {
		return
	}
	func() {
		t.flushing = true
		defer func() { t.flushing = false }()
		for len(t.queue) > 0 {
			pending := t.queue
			t.queue = nil
			for _, fn := range pending {
				fn()
			}
		}
	}()

	for len(t.later) > 0 {
		pending := t.later
		t.later = nil
		t.laterSeen = nil
		for _, fn := range pending {
			fn()
		}
	}
}
