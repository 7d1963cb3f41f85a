package storion

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Tracker is an active tracking context. Pick attaches derived values to it.
type Tracker interface {
	picks() *pickArena
}

// EffectContext is the tracking context of one effect run
type EffectContext struct {
	run   int
	arena *pickArena
}

func (c *EffectContext) picks() *pickArena {
	if c == nil {
		return nil
	}
	return c.arena
}

// Run returns the 1-based number of the current run
func (c *EffectContext) Run() int {
	return c.run
}

// Untrack runs fn without recording its reads as dependencies of the effect
func (c *EffectContext) Untrack(fn func()) {
	c.arena.tracking.untrack(fn)
}

// EffectOption is a modifier for effects
type EffectOption func(*effect)

// OnEffectError routes errors and panics of the effect function to fn instead
// of the resolver logger.
func OnEffectError(fn func(error)) EffectOption {
	return func(e *effect) {
		e.onError = fn
	}
}

type effect struct {
	fn       func(*EffectContext) error
	tracking *tracking
	logger   *zap.Logger
	onError  func(error)

	subs    []func()
	arena   *pickArena
	runs    int
	running bool
	rerun   bool
	stopped bool
}

// Effect runs fn immediately and again, synchronously, whenever a value it
// read changes. The returned function stops the effect.
func Effect(r *Resolver, fn func(*EffectContext) error, opts ...EffectOption) (stop func()) {
	e := &effect{
		fn:       fn,
		tracking: r.tracking,
		logger:   r.logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.schedule()
	return e.stop
}

// trigger reruns the effect, once per batch when writes are batched
func (e *effect) trigger() {
	if e.tracking.deferUntilFlushed(e, e.schedule) {
		return
	}
	e.schedule()
}

func (e *effect) schedule() {
	if e.stopped {
		return
	}
	if e.running {
		e.rerun = true
		return
	}

	e.running = true
	defer func() { e.running = false }()

	for {
		e.rerun = false
		e.execute()
		if !e.rerun || e.stopped {
			return
		}
	}
}

func (e *effect) execute() {
	e.teardown()
	e.runs++

	ctx := &EffectContext{run: e.runs, arena: newPickArena(e.tracking)}
	e.arena = ctx.arena

	var err error
	deps := e.tracking.collect(func() {
		err = e.invoke(ctx)
	})
	ctx.arena.live = false

	if e.stopped {
		e.teardown()
		return
	}
	for _, d := range deps {
		e.subs = append(e.subs, d.subscribe(e.trigger))
	}
	if err != nil {
		e.report(err)
	}
}

func (e *effect) invoke(ctx *EffectContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return e.fn(ctx)
}

func (e *effect) report(err error) {
	if e.onError != nil {
		e.onError(err)
		return
	}
	e.logger.Warn("effect failed", zap.Int("run", e.runs), zap.Error(err))
}

func (e *effect) teardown() {
	for _, off := range e.subs {
		off()
	}
	e.subs = nil
	if e.arena != nil {
		e.arena.close()
		e.arena = nil
	}
}

func (e *effect) stop() {
	if e.stopped {
		return
	}
	e.stopped = true
	e.teardown()
}
