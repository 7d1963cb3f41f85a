package storion

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pumped-fn/storion/config"
)

// Resolver lazily invokes factories, caches their values and applies
// overrides and middleware. Child resolvers created with Scope share the
// tracking arena of their root.
type Resolver struct {
	mu        sync.Mutex
	cache     map[AnyFactory]any
	order     []AnyFactory
	overrides map[AnyFactory]override
	resolving map[AnyFactory]bool

	parent     *Resolver
	middleware []Middleware
	hooks      []Middleware
	invoker    *Resolver
	container  *Container

	tracking    *tracking
	scheduler   Scheduler
	logger      *zap.Logger
	gracePeriod time.Duration
}

type override struct {
	value   any
	factory AnyFactory
	isValue bool
}

// ResolverOption is a modifier for resolvers
type ResolverOption func(*Resolver)

// WithMiddleware replaces the middleware list
func WithMiddleware(mws ...Middleware) ResolverOption {
	return func(r *Resolver) {
		r.middleware = append([]Middleware(nil), mws...)
	}
}

// WithExtraMiddleware appends to the middleware list
func WithExtraMiddleware(mws ...Middleware) ResolverOption {
	return func(r *Resolver) {
		r.middleware = append(r.middleware, mws...)
	}
}

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithScheduler sets the scheduler used for deferred and delayed disposal
func WithScheduler(s Scheduler) ResolverOption {
	return func(r *Resolver) {
		r.scheduler = s
	}
}

// WithGracePeriod sets the default auto-dispose grace period
func WithGracePeriod(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.gracePeriod = d
	}
}

// WithInvokeResolver sets the resolver handed to factories in place of this one
func WithInvokeResolver(inv *Resolver) ResolverOption {
	return func(r *Resolver) {
		r.invoker = inv
	}
}

// WithOverride registers an override at construction time
func WithOverride(f, replacement AnyFactory) ResolverOption {
	return func(r *Resolver) {
		r.overrides[f] = override{factory: replacement}
	}
}

// WithConfig applies the grace period and scheduler of cfg
func WithConfig(cfg config.Config) ResolverOption {
	return func(r *Resolver) {
		r.gracePeriod = cfg.GracePeriod
		switch cfg.Scheduler {
		case config.SchedulerQueue:
			r.scheduler = NewQueueScheduler()
		case config.SchedulerTimer:
			r.scheduler = NewTimerScheduler()
		}
	}
}

// NewResolver creates a root resolver. Unless WithScheduler or WithConfig
// says otherwise, deferred disposal goes to a QueueScheduler that the host
// drains with Flush or Advance, so lifecycle work stays on the host goroutine.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := newResolver(nil)
	r.tracking = newTracking()
	r.scheduler = NewQueueScheduler()
	r.logger = zap.NewNop()

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newResolver(parent *Resolver) *Resolver {
	return &Resolver{
		cache:     make(map[AnyFactory]any),
		overrides: make(map[AnyFactory]override),
		resolving: make(map[AnyFactory]bool),
		parent:    parent,
	}
}

// Scope creates a child resolver. The child inherits the middleware,
// scheduler, logger and grace period; opts may replace them. Container hooks
// are always inherited and stay innermost.
func (r *Resolver) Scope(opts ...ResolverOption) *Resolver {
	r.mu.Lock()
	child := newResolver(r)
	child.middleware = append([]Middleware(nil), r.middleware...)
	child.hooks = r.hooks
	r.mu.Unlock()

	child.container = r.container
	child.tracking = r.tracking
	child.scheduler = r.scheduler
	child.logger = r.logger
	child.gracePeriod = r.gracePeriod

	for _, opt := range opts {
		opt(child)
	}
	return child
}

// Parent returns the parent resolver, nil for roots
func (r *Resolver) Parent() *Resolver {
	return r.parent
}

// Container returns the container this resolver belongs to, nil for
// resolvers created with NewResolver.
func (r *Resolver) Container() *Container {
	return r.container
}

// Logger returns the resolver logger
func (r *Resolver) Logger() *zap.Logger {
	return r.logger
}

// Scheduler returns the resolver scheduler
func (r *Resolver) Scheduler() Scheduler {
	return r.scheduler
}

// Batch runs fn and delivers state notifications once it returns
func (r *Resolver) Batch(fn func()) {
	r.tracking.batch(fn)
}

// Untrack runs fn without recording reads in the active tracking context
func (r *Resolver) Untrack(fn func()) {
	r.tracking.untrack(fn)
}

// Get returns the cached value of f, invoking it on first use
func (r *Resolver) Get(f AnyFactory) (any, error) {
	return r.resolve(f)
}

// Create invokes f without caching the result
func (r *Resolver) Create(f AnyFactory) (any, error) {
	return r.build(f)
}

// Has reports whether f has a cached value
func (r *Resolver) Has(f AnyFactory) bool {
	r.mu.Lock()
	_, ok := r.cache[f]
	delegate := !ok && r.delegates()
	r.mu.Unlock()

	if delegate {
		return r.parent.Has(f)
	}
	return ok
}

// TryGet returns the cached value of f without invoking it
func (r *Resolver) TryGet(f AnyFactory) (any, bool) {
	r.mu.Lock()
	v, ok := r.cache[f]
	delegate := !ok && r.delegates()
	r.mu.Unlock()

	if delegate {
		return r.parent.TryGet(f)
	}
	return v, ok
}

// Set overrides f with replacement and evicts the cached value of f. From
// then on this resolver no longer consults its parent.
func (r *Resolver) Set(f, replacement AnyFactory) error {
	return r.setOverride(f, override{factory: replacement})
}

// Delete evicts the cached value of f, disposing it if it is a Disposer
func (r *Resolver) Delete(f AnyFactory) error {
	r.mu.Lock()
	v, ok := r.cache[f]
	if ok {
		r.evictLocked(f)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.Debug("evict", zap.String("factory", f.DisplayName()))
	return dispose(v)
}

// Clear evicts every cached value in reverse creation order and disposes it
func (r *Resolver) Clear() error {
	r.mu.Lock()
	order := r.order
	values := make([]any, len(order))
	for i, f := range order {
		values[i] = r.cache[f]
	}
	r.cache = make(map[AnyFactory]any)
	r.order = nil
	r.mu.Unlock()

	var err error
	for i := len(values) - 1; i >= 0; i-- {
		err = multierr.Append(err, dispose(values[i]))
	}
	r.logger.Debug("cleared", zap.Int("count", len(values)))
	return err
}

// delegates reports whether misses go to the parent. Caller holds r.mu.
func (r *Resolver) delegates() bool {
	return r.parent != nil && len(r.overrides) == 0
}

func (r *Resolver) resolve(f AnyFactory) (any, error) {
	r.mu.Lock()
	if v, ok := r.cache[f]; ok {
		r.mu.Unlock()
		return v, nil
	}
	if r.delegates() {
		r.mu.Unlock()
		return r.parent.resolve(f)
	}
	if r.resolving[f] {
		r.mu.Unlock()
		return nil, &ResolveError{Factory: f.DisplayName(), Kind: kindOf(f), Cause: ErrCircularDependency}
	}
	r.resolving[f] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.resolving, f)
		r.mu.Unlock()
	}()

	v, err := r.build(f)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.cache[f]; ok {
		r.mu.Unlock()
		_ = dispose(v)
		return existing, nil
	}
	r.cache[f] = v
	r.order = append(r.order, f)
	r.mu.Unlock()

	if inst, ok := v.(AnyInstance); ok {
		inst.OnDispose(func() {
			r.forget(f, inst)
		})
	}
	r.logger.Debug("created", zap.String("factory", f.DisplayName()), zap.String("kind", string(kindOf(f))))
	return v, nil
}

func (r *Resolver) build(f AnyFactory) (any, error) {
	target := f
	if ov, ok := r.lookupOverride(f); ok {
		if ov.isValue {
			return ov.value, nil
		}
		target = ov.factory
	}

	r.mu.Lock()
	mws := r.middleware
	if len(r.hooks) > 0 {
		mws = append(append(make([]Middleware, 0, len(mws)+len(r.hooks)), mws...), r.hooks...)
	}
	r.mu.Unlock()

	inv := r
	if r.invoker != nil {
		inv = r.invoker
	}

	base := &MiddlewareContext{
		Type:        kindOf(target),
		Factory:     target,
		Resolver:    r,
		DisplayName: target.DisplayName(),
		Meta:        metaViewOf(target),
		Spec:        target.Info(),
	}
	v, err := runChain(base, mws, func() (any, error) {
		return target.invoke(inv)
	})
	if err != nil {
		var re *ResolveError
		if errors.As(err, &re) && re.Factory == target.DisplayName() {
			return nil, err
		}
		return nil, &ResolveError{Factory: target.DisplayName(), Kind: base.Type, Cause: err}
	}
	return v, nil
}

// lookupOverride walks the resolver chain for an override of f
func (r *Resolver) lookupOverride(f AnyFactory) (override, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		ov, ok := cur.overrides[f]
		cur.mu.Unlock()
		if ok {
			return ov, true
		}
	}
	return override{}, false
}

func (r *Resolver) setOverride(f AnyFactory, ov override) error {
	r.mu.Lock()
	r.overrides[f] = ov
	v, cached := r.cache[f]
	if cached {
		r.evictLocked(f)
	}
	r.mu.Unlock()

	r.logger.Debug("override", zap.String("factory", f.DisplayName()), zap.Bool("value", ov.isValue))
	if !cached {
		return nil
	}
	return dispose(v)
}

// forget drops f from the cache if it still maps to v
func (r *Resolver) forget(f AnyFactory, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.cache[f]; ok && cur == v {
		r.evictLocked(f)
	}
}

func (r *Resolver) evictLocked(f AnyFactory) {
	delete(r.cache, f)
	r.order = removeElement(r.order, f)
}

func dispose(v any) error {
	if d, ok := v.(Disposer); ok {
		return d.Dispose()
	}
	return nil
}

// Source is where a factory value can be fetched from: a resolver, or a setup
// context which additionally enforces setup-phase and lifetime rules.
type Source interface {
	resolve(f AnyFactory) (any, error)
	build(f AnyFactory) (any, error)
}

// Get returns the cached value of f from src, invoking it on first use
func Get[T any](src Source, f *Factory[T]) (T, error) {
	v, err := src.resolve(f)
	if err != nil {
		var zero T
		return zero, err
	}
	return SafeTypeAssertion[T](v)
}

// GetAny is the untyped form of Get
func GetAny(src Source, f AnyFactory) (any, error) {
	return src.resolve(f)
}

// MustGet is like Get but panics on error
func MustGet[T any](src Source, f *Factory[T]) T {
	v, err := Get(src, f)
	if err != nil {
		panic(err)
	}
	return v
}

// Create invokes f through src without caching the result
func Create[T any](src Source, f *Factory[T]) (T, error) {
	v, err := src.build(f)
	if err != nil {
		var zero T
		return zero, err
	}
	return SafeTypeAssertion[T](v)
}

// TryGet returns the cached value of f without invoking it
func TryGet[T any](r *Resolver, f *Factory[T]) (T, bool) {
	v, ok := r.TryGet(f)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Override replaces f in r. replacement is either a T, served as is, or a
// *Factory[T] invoked in place of f.
func Override[T any](r *Resolver, f *Factory[T], replacement any) error {
	switch rep := replacement.(type) {
	case *Factory[T]:
		return r.setOverride(f, override{factory: rep})
	case T:
		return r.setOverride(f, override{value: rep, isValue: true})
	default:
		panic(fmt.Sprintf("override must be value of type %T or *Factory[%T]", *new(T), *new(T)))
	}
}
