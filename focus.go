package storion

import (
	"fmt"
	"reflect"
)

// FocusChange is delivered to Focus listeners
type FocusChange[T any] struct {
	Next T
	Prev T
}

// FocusOption is a modifier for focuses
type FocusOption func(*focusConfig)

type focusConfig struct {
	fallback func() any
	equal    EqualFunc
}

// WithFallback supplies the value used when the focused value is nil or
// missing. Reads return it without writing it back; Update and Mutate use it
// as their base.
func WithFallback[T any](fn func() T) FocusOption {
	return func(c *focusConfig) {
		c.fallback = func() any { return fn() }
	}
}

// WithFocusEqual sets the equality used to diff values for listeners
func WithFocusEqual(eq EqualFunc) FocusOption {
	return func(c *focusConfig) {
		c.equal = eq
	}
}

// focusRoot binds a focus to one top-level state field
type focusRoot struct {
	typ   reflect.Type
	read  func() any
	peek  func() any
	write func(v any) error
	watch func(fn func()) func()
}

// Focus is a typed accessor bound to a dot path inside an instance state
type Focus[T any] struct {
	root     *focusRoot
	segs     []string
	fallback func() any
	equal    EqualFunc
}

// FocusOn creates a focus on path. The first segment must be a state field.
// Like Get and Create it is only available during setup.
func FocusOn[T, S any](c *SetupContext[S], path string, opts ...FocusOption) (*Focus[T], error) {
	if c.done {
		return nil, fmt.Errorf("focus %q: %w", path, ErrSetupPhase)
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	st := c.state
	idx, err := st.schema.lookup(segs[0])
	if err != nil {
		return nil, fmt.Errorf("focus %q: %w", path, err)
	}

	root := &focusRoot{
		typ:  st.schema.fields[idx].typ,
		read: func() any { return st.read(idx) },
		peek: func() any { return st.peek(idx) },
		write: func(v any) error {
			st.write(idx, v)
			return nil
		},
		watch: func(fn func()) func() {
			return st.emitters[idx].On(func(Change) { fn() })
		},
	}
	return newFocus[T](root, segs, opts), nil
}

// FocusTo derives a focus on rel below f. Nothing is subscribed until On is
// called on the result.
func FocusTo[C, T any](f *Focus[T], rel string, opts ...FocusOption) (*Focus[C], error) {
	segs, err := splitPath(rel)
	if err != nil {
		return nil, err
	}
	all := make([]string, 0, len(f.segs)+len(segs))
	all = append(all, f.segs...)
	all = append(all, segs...)
	return newFocus[C](f.root, all, opts), nil
}

func newFocus[T any](root *focusRoot, segs []string, opts []FocusOption) *Focus[T] {
	cfg := focusConfig{equal: Strict}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Focus[T]{
		root:     root,
		segs:     segs,
		fallback: cfg.fallback,
		equal:    cfg.equal,
	}
}

// Path returns the dot path of the focus
func (f *Focus[T]) Path() []string {
	return append([]string(nil), f.segs...)
}

// Get returns the focused value, or the fallback when it is nil or missing.
// The read is tracked.
func (f *Focus[T]) Get() T {
	v, ok := f.lookup(f.root.read())
	return f.typed(v, ok, true)
}

// Set replaces the focused value, creating intermediates as needed
func (f *Focus[T]) Set(v T) error {
	return f.assign(v)
}

// Update replaces the focused value with fn(current)
func (f *Focus[T]) Update(fn func(T) T) error {
	return f.assign(fn(f.base()))
}

// Mutate hands fn a deep copy of the current value to edit in place and
// stores the result.
func (f *Focus[T]) Mutate(fn func(*T)) error {
	draft, _ := deepClone(any(f.base())).(T)
	fn(&draft)
	return f.assign(draft)
}

// Pair returns the getter and setter of the focus
func (f *Focus[T]) Pair() (func() T, func(T) error) {
	return f.Get, f.Set
}

// On calls listener whenever the focused value changes under the focus
// equality. It does not hold a reference on the instance.
func (f *Focus[T]) On(listener func(FocusChange[T])) func() {
	prev := f.current()
	return f.root.watch(func() {
		next := f.current()
		if f.equal(prev, next) {
			return
		}
		old := prev
		prev = next
		listener(FocusChange[T]{Next: next, Prev: old})
	})
}

func (f *Focus[T]) lookup(root any) (any, bool) {
	if len(f.segs) == 1 {
		return root, true
	}
	return readAt(root, f.segs[1:])
}

func (f *Focus[T]) current() T {
	v, ok := f.lookup(f.root.peek())
	return f.typed(v, ok, false)
}

func (f *Focus[T]) base() T {
	v, ok := f.lookup(f.root.peek())
	return f.typed(v, ok, true)
}

func (f *Focus[T]) typed(v any, ok bool, fallback bool) T {
	if (!ok || isNil(v)) && fallback && f.fallback != nil {
		v = f.fallback()
	}
	if typed, ok := v.(T); ok {
		return typed
	}

	var zero T
	if v == nil {
		return zero
	}
	rv, err := valueFor(v, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero
	}
	typed, _ := rv.Interface().(T)
	return typed
}

// assign writes v at the focused path. A value deep-equal to the stored one
// is dropped so the root field keeps its identity and stays clean.
func (f *Focus[T]) assign(v any) error {
	if cur, ok := f.lookup(f.root.peek()); ok && Deep(cur, v) {
		return nil
	}
	res, err := writeAt(reflect.ValueOf(f.root.peek()), f.root.typ, f.segs[1:], v)
	if err != nil {
		return fmt.Errorf("focus %v: %w", f.segs, err)
	}
	return f.root.write(res.Interface())
}
