package storion

import (
	"fmt"
	"runtime/debug"
	"sort"
)

// pickArena owns the pick entries of one tracking context run. Entries die
// with the arena.
type pickArena struct {
	tracking *tracking
	live     bool
	seq      int
	entries  map[string]pickHandle
	order    []pickHandle
}

type pickHandle interface {
	close()
}

func newPickArena(t *tracking) *pickArena {
	return &pickArena{
		tracking: t,
		live:     true,
		entries:  make(map[string]pickHandle),
	}
}

func (a *pickArena) close() {
	a.live = false
	for _, h := range a.order {
		h.close()
	}
	a.entries = nil
	a.order = nil
}

// PickOption is a modifier for Pick and PickMethods
type PickOption func(*pickConfig)

type pickConfig struct {
	equal  EqualFunc
	key    string
	prefix string
}

// PickEqual compares successive results with eq instead of Strict
func PickEqual(eq EqualFunc) PickOption {
	return func(c *pickConfig) {
		c.equal = eq
	}
}

// PickKey caches the entry under key instead of its call position
func PickKey(key string) PickOption {
	return func(c *pickConfig) {
		c.key = key
	}
}

// PickPrefix prefixes the keys of the methods built by PickMethods
func PickPrefix(prefix string) PickOption {
	return func(c *pickConfig) {
		c.prefix = prefix
	}
}

type pickEntry[T any] struct {
	tracking *tracking
	fn       func() T
	equal    EqualFunc

	value   T
	subs    []func()
	changed *Emitter[struct{}]
	closed  bool
}

// Pick evaluates fn and registers its result, rather than the reads behind
// it, as a single dependency of tc. When a read value changes fn is evaluated
// again and tc is notified only if the result differs. Pick panics with
// ErrNoTrackingContext when tc is not running.
func Pick[T any](tc Tracker, fn func() T, opts ...PickOption) T {
	var arena *pickArena
	if tc != nil {
		arena = tc.picks()
	}
	if arena == nil || !arena.live {
		panic(ErrNoTrackingContext)
	}

	cfg := pickConfig{equal: Strict}
	for _, opt := range opts {
		opt(&cfg)
	}

	key := cfg.prefix + cfg.key
	if cfg.key == "" {
		arena.seq++
		key = fmt.Sprintf("#%d", arena.seq)
	}

	if h, ok := arena.entries[key]; ok {
		entry, ok := h.(*pickEntry[T])
		if !ok {
			panic(fmt.Sprintf("pick %q reused with a different type", key))
		}
		entry.register()
		return entry.value
	}

	entry := &pickEntry[T]{
		tracking: arena.tracking,
		fn:       fn,
		equal:    cfg.equal,
		changed:  NewEmitter[struct{}](),
	}
	arena.entries[key] = entry
	arena.order = append(arena.order, entry)

	deps := entry.tracking.collect(func() {
		entry.value = fn()
	})
	entry.subscribe(deps)
	entry.register()
	return entry.value
}

// PickMethods wraps every function of fns so that calling it inside tc goes
// through Pick under its own key. The returned methods are only valid while
// tc runs.
func PickMethods[T any](tc Tracker, fns map[string]func() T, opts ...PickOption) map[string]func() T {
	cfg := pickConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]func() T, len(fns))
	for _, name := range names {
		fn := fns[name]
		key := cfg.prefix + name
		out[name] = func() T {
			pickOpts := []PickOption{PickKey(key)}
			if cfg.equal != nil {
				pickOpts = append(pickOpts, PickEqual(cfg.equal))
			}
			return Pick(tc, fn, pickOpts...)
		}
	}
	return out
}

// register records the entry as one dependency of the enclosing collector
func (p *pickEntry[T]) register() {
	p.tracking.track(dependency{
		key: depKey{source: p},
		subscribe: func(l func()) func() {
			return p.changed.On(func(struct{}) { l() })
		},
	})
}

func (p *pickEntry[T]) subscribe(deps []dependency) {
	for _, d := range deps {
		p.subs = append(p.subs, d.subscribe(p.reevaluate))
	}
}

func (p *pickEntry[T]) unsubscribe() {
	for _, off := range p.subs {
		off()
	}
	p.subs = nil
}

func (p *pickEntry[T]) reevaluate() {
	if p.closed {
		return
	}
	p.unsubscribe()

	var next T
	var failure *PanicError
	deps := p.tracking.collect(func() {
		defer func() {
			if r := recover(); r != nil {
				failure = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		next = p.fn()
	})

	if failure != nil {
		p.changed.Emit(struct{}{})
		return
	}

	p.subscribe(deps)
	if p.equal(p.value, next) {
		return
	}
	p.value = next
	p.changed.Emit(struct{}{})
}

func (p *pickEntry[T]) close() {
	p.closed = true
	p.unsubscribe()
	p.changed.Clear()
}
