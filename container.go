package storion

import (
	"github.com/pumped-fn/storion/config"
)

// Container is a root resolver that reports the store instances it creates
// and disposes.
type Container struct {
	*Resolver
	created  *Emitter[AnyInstance]
	disposed *Emitter[AnyInstance]
}

// NewContainer creates a container. The lifecycle reporting middleware runs
// innermost, after any middleware set by opts, and survives WithMiddleware
// in scopes. Factories reach the container through Resolver.Container.
func NewContainer(opts ...ResolverOption) *Container {
	c := &Container{
		created:  NewEmitter[AnyInstance](),
		disposed: NewEmitter[AnyInstance](),
	}
	c.Resolver = NewResolver(opts...)
	c.Resolver.hooks = []Middleware{c.lifecycle}
	c.Resolver.container = c
	return c
}

// NewContainerFromConfig validates cfg and creates a container with its
// scheduler, grace period and logger. opts are applied afterwards.
func NewContainerFromConfig(cfg config.Config, opts ...ResolverOption) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	all := append([]ResolverOption{WithConfig(cfg), WithLogger(logger)}, opts...)
	return NewContainer(all...), nil
}

// Dispose evicts and disposes the cached instance of f
func (c *Container) Dispose(f AnyFactory) error {
	return c.Delete(f)
}

// OnCreate registers a listener for every store instance created through the
// container or its scopes.
func (c *Container) OnCreate(fn func(AnyInstance)) func() {
	return c.created.On(fn)
}

// OnDispose registers a listener for every disposed store instance
func (c *Container) OnDispose(fn func(AnyInstance)) func() {
	return c.disposed.On(fn)
}

// Close disposes every cached value
func (c *Container) Close() error {
	return c.Clear()
}

func (c *Container) lifecycle(ctx *MiddlewareContext) (any, error) {
	v, err := ctx.Next()
	if err != nil || ctx.Type != KindStore {
		return v, err
	}
	if inst, ok := v.(AnyInstance); ok {
		inst.OnDispose(func() {
			c.disposed.Emit(inst)
		})
		c.created.Emit(inst)
	}
	return v, nil
}
