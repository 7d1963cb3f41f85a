package storion

import (
	"fmt"
	"sync/atomic"
)

var factorySeq atomic.Uint64

// Factory builds a value from a resolver. The pointer is the cache key, so a
// factory must be declared once and reused.
type Factory[T any] struct {
	fn   func(*Resolver) (T, error)
	name string
	meta []MetaEntry
	spec *SpecInfo
}

// AnyFactory is the untyped view of a Factory used by the resolver and by
// middleware.
type AnyFactory interface {
	DisplayName() string
	Meta() []MetaEntry
	// Info returns the store spec description, or nil for plain factories.
	Info() *SpecInfo
	invoke(r *Resolver) (any, error)
}

// FactoryOption is a modifier for factories
type FactoryOption func(*factoryConfig)

type factoryConfig struct {
	name string
	meta []MetaEntry
}

// WithName sets the display name reported to middleware and logs
func WithName(name string) FactoryOption {
	return func(c *factoryConfig) {
		c.name = name
	}
}

// WithMeta attaches factory-level metadata
func WithMeta(entries ...MetaEntry) FactoryOption {
	return func(c *factoryConfig) {
		c.meta = append(c.meta, entries...)
	}
}

// NewFactory creates a factory
func NewFactory[T any](fn func(*Resolver) (T, error), opts ...FactoryOption) *Factory[T] {
	cfg := applyFactoryOptions(opts)
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("factory-%d", factorySeq.Add(1))
	}
	return &Factory[T]{
		fn:   fn,
		name: cfg.name,
		meta: cfg.meta,
	}
}

// Const creates a factory that always returns v
func Const[T any](v T, opts ...FactoryOption) *Factory[T] {
	return NewFactory(func(*Resolver) (T, error) {
		return v, nil
	}, opts...)
}

func applyFactoryOptions(opts []FactoryOption) factoryConfig {
	var cfg factoryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DisplayName returns the factory name
func (f *Factory[T]) DisplayName() string {
	return f.name
}

// Meta returns factory-level metadata
func (f *Factory[T]) Meta() []MetaEntry {
	return f.meta
}

// Info returns the store spec description, nil for plain factories
func (f *Factory[T]) Info() *SpecInfo {
	return f.spec
}

// MetaView merges factory-level and spec-level metadata
func (f *Factory[T]) MetaView() MetaView {
	return metaViewOf(f)
}

func (f *Factory[T]) invoke(r *Resolver) (any, error) {
	return f.fn(r)
}

func (f *Factory[T]) String() string {
	return f.name
}

func metaViewOf(f AnyFactory) MetaView {
	if info := f.Info(); info != nil {
		return newMetaView(f.Meta(), info.Meta)
	}
	return newMetaView(f.Meta())
}

func kindOf(f AnyFactory) Kind {
	if f.Info() != nil {
		return KindStore
	}
	return KindFactory
}
