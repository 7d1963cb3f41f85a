package storion

import "fmt"

// setupOwner is the instance a setup context builds
type setupOwner interface {
	AnyInstance
	addDep(dep AnyInstance)
	addDisposer(fn func() error)
}

// refCounted is implemented by instances that support auto-dispose
type refCounted interface {
	retain()
	release()
}

// SetupContext is handed to Options.Setup. Get, Create, FocusOn and Mixin are
// only legal while setup runs; the remaining methods may be captured by
// actions and used later.
type SetupContext[S any] struct {
	owner    setupOwner
	resolver *Resolver
	state    *State[S]
	done     bool
}

// State returns the instance state
func (c *SetupContext[S]) State() *State[S] {
	return c.state
}

// Resolver returns the resolver building the instance
func (c *SetupContext[S]) Resolver() *Resolver {
	return c.resolver
}

// Update applies a batched mutation to the state
func (c *SetupContext[S]) Update(fn func(*S)) {
	c.state.Patch(fn)
}

// Action binds an updater into a callable action
func (c *SetupContext[S]) Action(fn func(*S)) func() {
	return func() {
		c.state.Patch(fn)
	}
}

// UpdateAction binds an updater taking one argument into a callable action
func UpdateAction[S, P any](c *SetupContext[S], fn func(*S, P)) func(P) {
	return func(p P) {
		c.state.Patch(func(s *S) {
			fn(s, p)
		})
	}
}

// OnDispose registers fn to run when the instance is disposed
func (c *SetupContext[S]) OnDispose(fn func()) {
	c.owner.OnDispose(fn)
}

// Dirty reports whether keys differ from their post-setup values
func (c *SetupContext[S]) Dirty(keys ...string) bool {
	return c.owner.Dirty(keys...)
}

// Reset restores the post-setup values
func (c *SetupContext[S]) Reset() {
	c.owner.Reset()
}

// Mixin runs a reusable setup fragment against the same context
func Mixin[S, R any](c *SetupContext[S], fn func(*SetupContext[S]) (R, error)) (R, error) {
	if c.done {
		var zero R
		return zero, fmt.Errorf("mixin: %w", ErrSetupPhase)
	}
	return fn(c)
}

func (c *SetupContext[S]) check(f AnyFactory) error {
	if c.done {
		return fmt.Errorf("%s: %w", f.DisplayName(), ErrSetupPhase)
	}
	dep := f.Info()
	if dep == nil {
		return nil
	}
	if c.owner.Info().Lifetime == KeepAlive && dep.Lifetime == AutoDispose {
		return fmt.Errorf("%w: %s -> %s", ErrLifetimeMismatch, c.owner.Info().DisplayName, dep.DisplayName)
	}
	return nil
}

func (c *SetupContext[S]) resolve(f AnyFactory) (any, error) {
	if err := c.check(f); err != nil {
		return nil, err
	}
	v, err := c.resolver.resolve(f)
	if err != nil {
		return nil, err
	}

	if inst, ok := v.(AnyInstance); ok {
		c.owner.addDep(inst)
		if rc, ok := inst.(refCounted); ok && inst.Info().Lifetime == AutoDispose {
			rc.retain()
			c.owner.addDisposer(func() error {
				rc.release()
				return nil
			})
		}
	}
	return v, nil
}

func (c *SetupContext[S]) build(f AnyFactory) (any, error) {
	if err := c.check(f); err != nil {
		return nil, err
	}
	v, err := c.resolver.build(f)
	if err != nil {
		return nil, err
	}

	if inst, ok := v.(AnyInstance); ok {
		c.owner.addDep(inst)
	}
	if d, ok := v.(Disposer); ok {
		c.owner.addDisposer(d.Dispose)
	}
	return v, nil
}
