package storion

import (
	"fmt"
	"reflect"
	"strings"
)

// Change describes one field write
type Change struct {
	Key string
	Old any
	New any
}

type fieldInfo struct {
	name  string
	index int
	typ   reflect.Type
	equal EqualFunc
}

// schema is the field layout of a state struct, computed once per spec
type schema struct {
	typ    reflect.Type
	fields []fieldInfo
	byName map[string]int
}

func schemaOf(typ reflect.Type) (*schema, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("state must be a struct, got %s", typ)
	}

	sc := &schema{typ: typ, byName: make(map[string]int)}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name := fieldKey(f)
		if name == "" {
			continue
		}
		if _, dup := sc.byName[name]; dup {
			return nil, fmt.Errorf("state field %q declared twice", name)
		}
		sc.byName[name] = len(sc.fields)
		sc.fields = append(sc.fields, fieldInfo{
			name:  name,
			index: i,
			typ:   f.Type,
			equal: Strict,
		})
	}
	return sc, nil
}

// fieldKey returns the state key of a struct field: its json name if it has
// one, otherwise the Go name. A json name of "-" hides the field.
func fieldKey(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

func (sc *schema) names() []string {
	out := make([]string, len(sc.fields))
	for i, f := range sc.fields {
		out[i] = f.name
	}
	return out
}

func (sc *schema) lookup(key string) (int, error) {
	i, ok := sc.byName[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	return i, nil
}

// State is the reactive accessor over an instance's state. Reads inside a
// tracking context are recorded; writes that change a value under the field's
// equality notify subscribers.
type State[S any] struct {
	schema   *schema
	values   []any
	emitters []*Emitter[Change]
	changes  *Emitter[Change]
	tracking *tracking
}

func newState[S any](sc *schema, initial S, t *tracking) *State[S] {
	s := &State[S]{
		schema:   sc,
		values:   make([]any, len(sc.fields)),
		emitters: make([]*Emitter[Change], len(sc.fields)),
		changes:  NewEmitter[Change](),
		tracking: t,
	}

	rv := reflect.ValueOf(initial)
	for i, f := range sc.fields {
		s.values[i] = rv.Field(f.index).Interface()
		s.emitters[i] = NewEmitter[Change]()
	}
	return s
}

// Keys returns the state field names in declaration order
func (s *State[S]) Keys() []string {
	return s.schema.names()
}

// Has reports whether key is a state field
func (s *State[S]) Has(key string) bool {
	_, ok := s.schema.byName[key]
	return ok
}

// Get reads a field. It panics with ErrUnknownField for keys outside the
// state shape.
func (s *State[S]) Get(key string) any {
	i, err := s.schema.lookup(key)
	if err != nil {
		panic(err)
	}
	return s.read(i)
}

// Set writes a field. Equal writes are dropped without notification.
func (s *State[S]) Set(key string, v any) error {
	i, err := s.schema.lookup(key)
	if err != nil {
		return err
	}
	coerced, err := assignable(v, s.schema.fields[i].typ)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.write(i, coerced)
	return nil
}

// Snapshot returns the current state as a struct. Every field counts as read.
func (s *State[S]) Snapshot() S {
	out := reflect.New(s.schema.typ).Elem()
	for i, f := range s.schema.fields {
		setField(out.Field(f.index), s.read(i))
	}
	return out.Interface().(S)
}

// Patch applies a batched mutation: fn edits a copy of the state and every
// field that changed is written, with notifications delivered after fn
// returns.
func (s *State[S]) Patch(fn func(*S)) {
	var draft S
	s.tracking.untrack(func() {
		draft = s.Snapshot()
	})
	fn(&draft)

	rv := reflect.ValueOf(draft)
	s.tracking.batch(func() {
		for i, f := range s.schema.fields {
			s.write(i, rv.Field(f.index).Interface())
		}
	})
}

// Subscribe attaches fn to every field change
func (s *State[S]) Subscribe(fn func(Change)) func() {
	return s.changes.On(fn)
}

// Read returns a field as T. It panics if the key is unknown; a value that
// is not a T yields the zero value.
func Read[T, S any](s *State[S], key string) T {
	v, _ := s.Get(key).(T)
	return v
}

func (s *State[S]) read(i int) any {
	f := s.schema.fields[i]
	s.tracking.track(dependency{
		key: depKey{source: s, key: f.name},
		subscribe: func(l func()) func() {
			return s.emitters[i].On(func(Change) { l() })
		},
	})
	return s.values[i]
}

func (s *State[S]) peek(i int) any {
	return s.values[i]
}

func (s *State[S]) write(i int, v any) bool {
	f := s.schema.fields[i]
	old := s.values[i]
	if f.equal(old, v) {
		return false
	}
	s.values[i] = v

	change := Change{Key: f.name, Old: old, New: v}
	s.tracking.notify(func() {
		s.emitters[i].Emit(change)
		s.changes.Emit(change)
	})
	return true
}

func (s *State[S]) watch(key string, fn func()) (func(), error) {
	i, err := s.schema.lookup(key)
	if err != nil {
		return nil, err
	}
	return s.emitters[i].On(func(Change) { fn() }), nil
}

func (s *State[S]) release() {
	for _, e := range s.emitters {
		e.Clear()
	}
	s.changes.Clear()
}

func setField(dst reflect.Value, v any) {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return
	}
	dst.Set(reflect.ValueOf(v))
}

// assignable checks that v can be stored in a field of type typ and returns
// the value to store.
func assignable(v any, typ reflect.Type) (any, error) {
	if v == nil {
		switch typ.Kind() {
		case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Func, reflect.Chan, reflect.Interface:
			return reflect.Zero(typ).Interface(), nil
		}
		return nil, fmt.Errorf("cannot assign nil to %s", typ)
	}
	if !reflect.TypeOf(v).AssignableTo(typ) {
		return nil, fmt.Errorf("cannot assign %T to %s", v, typ)
	}
	return v, nil
}
