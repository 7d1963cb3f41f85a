package storion

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AnyInstance is the untyped surface of a live store instance. It is what
// binding, persistence and devtools collaborators consume.
type AnyInstance interface {
	ID() string
	Info() *SpecInfo
	Deps() []AnyInstance
	Disposed() bool
	Dispose() error
	OnDispose(fn func())
	Subscribe(fn func(Change)) func()
	Observe(fn func(Change)) func()
	Dirty(keys ...string) bool
	Reset()
	Hydrate(data map[string]any, opts ...HydrateOption) error
	Dehydrate() map[string]any
	Lease() *Lease
}

// Disposer is implemented by cached values the resolver must dispose on evict
type Disposer interface {
	Dispose() error
}

// Instance is a live store: reactive state, wrapped actions and lifecycle
type Instance[S, A any] struct {
	id       string
	info     *SpecInfo
	opts     *Options[S, A]
	state    *State[S]
	actions  A
	resolver *Resolver
	logger   *zap.Logger

	deps     []AnyInstance
	baseline []any

	mu        sync.Mutex
	disposed  bool
	disposers []func() error
	refs      int
	pending   func()
	grace     time.Duration
}

func newInstance[S, A any](r *Resolver, spec *Spec[S, A], sc *schema, opts *Options[S, A]) (*Instance[S, A], error) {
	inst := &Instance[S, A]{
		id:       uuid.NewString(),
		info:     spec.Info(),
		opts:     opts,
		resolver: r,
		grace:    opts.GracePeriod,
	}
	if inst.grace == 0 {
		inst.grace = r.gracePeriod
	}
	inst.logger = r.logger.With(
		zap.String("store", inst.info.DisplayName),
		zap.String("instance", inst.id),
	)
	inst.state = newState(sc, opts.State, r.tracking)

	if opts.Setup != nil {
		ctx := &SetupContext[S]{owner: inst, resolver: r, state: inst.state}
		actions, err := opts.Setup(ctx)
		ctx.done = true
		if err != nil {
			_ = inst.Dispose()
			return nil, err
		}

		wrapped, err := wrapActions(inst, actions)
		if err != nil {
			_ = inst.Dispose()
			return nil, err
		}
		inst.actions = wrapped
	}

	inst.baseline = make([]any, len(inst.state.values))
	copy(inst.baseline, inst.state.values)

	inst.logger.Debug("instance created")
	return inst, nil
}

// ID returns the unique instance id
func (i *Instance[S, A]) ID() string {
	return i.id
}

// Info returns the spec description
func (i *Instance[S, A]) Info() *SpecInfo {
	return i.info
}

// State returns the reactive state accessor
func (i *Instance[S, A]) State() *State[S] {
	return i.state
}

// Actions returns the wrapped actions
func (i *Instance[S, A]) Actions() A {
	return i.actions
}

// Deps returns the instances fetched or created during setup
func (i *Instance[S, A]) Deps() []AnyInstance {
	out := make([]AnyInstance, len(i.deps))
	copy(out, i.deps)
	return out
}

// Disposed reports whether the instance has been disposed
func (i *Instance[S, A]) Disposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disposed
}

// Dispose runs the registered dispose callbacks in registration order and
// marks the instance disposed. Calling it again is a no-op.
func (i *Instance[S, A]) Dispose() error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return nil
	}
	i.disposed = true
	if i.pending != nil {
		i.pending()
		i.pending = nil
	}
	disposers := i.disposers
	i.disposers = nil
	i.mu.Unlock()

	var err error
	for _, fn := range disposers {
		err = multierr.Append(err, safeCall(fn))
	}
	i.state.release()

	if err != nil {
		i.logger.Warn("dispose callbacks failed", zap.Error(err))
	} else {
		i.logger.Debug("instance disposed")
	}
	return err
}

// OnDispose registers fn to run on disposal. On an already disposed
// instance fn runs immediately.
func (i *Instance[S, A]) OnDispose(fn func()) {
	i.addDisposer(func() error {
		fn()
		return nil
	})
}

func (i *Instance[S, A]) addDisposer(fn func() error) {
	i.mu.Lock()
	if !i.disposed {
		i.disposers = append(i.disposers, fn)
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	if err := safeCall(fn); err != nil {
		i.logger.Warn("dispose callback failed", zap.Error(err))
	}
}

func (i *Instance[S, A]) addDep(dep AnyInstance) {
	i.deps = append(i.deps, dep)
}

// Subscribe attaches fn to every state change. Subscribers hold a reference:
// when the last one leaves an autoDispose instance, disposal is scheduled
// after the grace period.
func (i *Instance[S, A]) Subscribe(fn func(Change)) func() {
	i.retain()
	off := i.state.changes.On(fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			off()
			i.release()
		})
	}
}

// Observe attaches fn to every state change without holding a reference.
// Binding collaborators use it to track reads without keeping instances alive.
func (i *Instance[S, A]) Observe(fn func(Change)) func() {
	return i.state.changes.On(fn)
}

// Refs returns the number of references currently held
func (i *Instance[S, A]) Refs() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs
}

func (i *Instance[S, A]) retain() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.refs++
	if i.pending != nil {
		i.pending()
		i.pending = nil
	}
}

func (i *Instance[S, A]) release() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.refs > 0 {
		i.refs--
	}
	if i.refs > 0 || i.disposed || i.info.Lifetime != AutoDispose {
		return
	}
	if i.pending != nil {
		i.pending()
	}

	var cancelled bool
	cancel := i.resolver.scheduler.After(i.grace, func() {
		i.mu.Lock()
		if cancelled || i.refs > 0 {
			i.mu.Unlock()
			return
		}
		i.pending = nil
		i.mu.Unlock()

		i.logger.Debug("auto-dispose after grace period", zap.Duration("grace", i.grace))
		_ = i.Dispose()
	})
	i.pending = func() {
		cancelled = true
		cancel()
	}
}

// Dirty reports whether any of keys (every field when none are given) differs
// from the value it had right after setup.
func (i *Instance[S, A]) Dirty(keys ...string) bool {
	if i.baseline == nil {
		return false
	}
	if len(keys) == 0 {
		for idx := range i.state.schema.fields {
			if i.dirtyAt(idx) {
				return true
			}
		}
		return false
	}
	for _, key := range keys {
		idx, err := i.state.schema.lookup(key)
		if err != nil {
			continue
		}
		if i.dirtyAt(idx) {
			return true
		}
	}
	return false
}

func (i *Instance[S, A]) dirtyAt(idx int) bool {
	return !i.state.schema.fields[idx].equal(i.state.peek(idx), i.baseline[idx])
}

// Reset restores every dirty field to its baseline value
func (i *Instance[S, A]) Reset() {
	if i.baseline == nil {
		return
	}
	i.state.tracking.batch(func() {
		for idx := range i.state.schema.fields {
			if i.dirtyAt(idx) {
				i.state.write(idx, i.baseline[idx])
			}
		}
	})
}

// HydrateOption modifies Hydrate
type HydrateOption func(*hydrateConfig)

type hydrateConfig struct {
	force bool
}

// WithForce overwrites dirty fields too
func WithForce() HydrateOption {
	return func(c *hydrateConfig) {
		c.force = true
	}
}

// Hydrate assigns the keys of data that are state fields. Dirty fields are
// skipped unless WithForce is given. Values are converted to the field type
// when they are not directly assignable.
func (i *Instance[S, A]) Hydrate(data map[string]any, opts ...HydrateOption) error {
	var cfg hydrateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if i.opts.Denormalize != nil {
		data = i.opts.Denormalize(data)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs error
	i.state.tracking.batch(func() {
		for _, key := range keys {
			idx, ok := i.state.schema.byName[key]
			if !ok {
				continue
			}
			if !cfg.force && i.dirtyAt(idx) {
				continue
			}
			v, err := coerce(data[key], i.state.schema.fields[idx].typ)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("hydrate %q: %w", key, err))
				continue
			}
			i.state.write(idx, v)
		}
	})
	return errs
}

// Dehydrate returns a snapshot for persistence: Normalize(state) when
// configured, otherwise a shallow field map.
func (i *Instance[S, A]) Dehydrate() map[string]any {
	if i.opts.Normalize != nil {
		var snap S
		i.state.tracking.untrack(func() {
			snap = i.state.Snapshot()
		})
		return i.opts.Normalize(snap)
	}

	out := make(map[string]any, len(i.state.values))
	for idx, f := range i.state.schema.fields {
		out[f.name] = i.state.peek(idx)
	}
	return out
}

func (i *Instance[S, A]) reportError(err error) {
	if i.opts.OnError != nil {
		i.opts.OnError(err)
	}
}

func (i *Instance[S, A]) dispatched(ev DispatchEvent) {
	if i.opts.OnDispatch != nil {
		i.opts.OnDispatch(ev)
	}
}

func (i *Instance[S, A]) String() string {
	return fmt.Sprintf("%s#%s", i.info.DisplayName, i.id)
}

// coerce converts raw persisted data to typ: assignable values pass through,
// numeric and string kinds convert, anything else goes through JSON.
func coerce(raw any, typ reflect.Type) (any, error) {
	if raw == nil {
		return assignable(nil, typ)
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(typ) {
		return raw, nil
	}
	if sameFamily(rv.Kind(), typ.Kind()) && rv.Type().ConvertibleTo(typ) {
		out, err := convertScalar(rv, typ)
		if err != nil {
			return nil, err
		}
		return out.Interface(), nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(typ)
	if err := json.Unmarshal(b, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func sameFamily(a, b reflect.Kind) bool {
	return (isNumeric(a) && isNumeric(b)) || (a == reflect.String && b == reflect.String)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// convertScalar converts rv to typ, which must be in the same family,
// refusing conversions that truncate or overflow.
func convertScalar(rv reflect.Value, typ reflect.Type) (reflect.Value, error) {
	out := reflect.New(typ).Elem()
	from, to := rv.Kind(), typ.Kind()

	lossy := false
	switch {
	case isFloat(from) && isSigned(to):
		f := rv.Float()
		lossy = f != math.Trunc(f) || f < math.MinInt64 || f >= 1<<63 || out.OverflowInt(int64(f))
	case isFloat(from) && isUnsigned(to):
		f := rv.Float()
		lossy = f != math.Trunc(f) || f < 0 || f >= 1<<64 || out.OverflowUint(uint64(f))
	case isFloat(from) && isFloat(to):
		lossy = out.OverflowFloat(rv.Float())
	case isSigned(from) && isSigned(to):
		lossy = out.OverflowInt(rv.Int())
	case isSigned(from) && isUnsigned(to):
		lossy = rv.Int() < 0 || out.OverflowUint(uint64(rv.Int()))
	case isUnsigned(from) && isSigned(to):
		lossy = rv.Uint() > math.MaxInt64 || out.OverflowInt(int64(rv.Uint()))
	case isUnsigned(from) && isUnsigned(to):
		lossy = out.OverflowUint(rv.Uint())
	}
	if lossy {
		return reflect.Value{}, fmt.Errorf("%w: %v into %s", ErrLossyConversion, rv.Interface(), typ)
	}
	return rv.Convert(typ), nil
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
