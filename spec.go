package storion

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"
)

var storeSeq atomic.Uint64

// Lifetime is the disposal policy of a store
type Lifetime string

const (
	// KeepAlive instances live until disposed explicitly or evicted from
	// their resolver. This is the default.
	KeepAlive Lifetime = "keepAlive"
	// AutoDispose instances are disposed once the last subscriber leaves and
	// the grace period elapses.
	AutoDispose Lifetime = "autoDispose"
)

// String returns the string representation of the lifetime.
func (l Lifetime) String() string {
	return string(l)
}

// ParseLifetime parses the names used in configuration files
func ParseLifetime(s string) (Lifetime, error) {
	switch Lifetime(s) {
	case "", KeepAlive:
		return KeepAlive, nil
	case AutoDispose:
		return AutoDispose, nil
	}
	return "", fmt.Errorf("unknown lifetime %q", s)
}

// DispatchEvent is reported to Options.OnDispatch after each action call
type DispatchEvent struct {
	Store   string
	Action  string
	Args    []any
	Results []any
}

// Options declares a store: its state shape, setup logic and policies.
// S must be a struct; A must be a struct whose exported fields are funcs.
type Options[S, A any] struct {
	Name  string
	State S
	Setup func(ctx *SetupContext[S]) (A, error)

	Lifetime Lifetime
	// GracePeriod delays auto-dispose; zero uses the resolver default.
	GracePeriod time.Duration

	// Equality is the default field equality, Strict when nil.
	Equality      EqualFunc
	FieldEquality map[string]EqualFunc

	OnDispatch  func(DispatchEvent)
	OnError     func(error)
	Normalize   func(S) map[string]any
	Denormalize func(map[string]any) map[string]any

	Meta []MetaEntry
}

// SpecInfo is the untyped, immutable description of a store spec
type SpecInfo struct {
	DisplayName string
	Fields      []string
	Meta        []MetaEntry
	Lifetime    Lifetime
}

// HasField reports whether name is a state field of the spec
func (i *SpecInfo) HasField(name string) bool {
	for _, f := range i.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// MetaView returns the spec-level metadata
func (i *SpecInfo) MetaView() MetaView {
	return newMetaView(i.Meta)
}

// Spec is a store specification. It is a factory producing instances, so it
// can be passed anywhere a factory is accepted.
type Spec[S, A any] = Factory[*Instance[S, A]]

// Store validates opts and returns the spec. Extra factory options attach
// factory-level metadata.
func Store[S, A any](opts Options[S, A], extra ...FactoryOption) (*Spec[S, A], error) {
	sc, err := schemaOf(reflect.TypeOf((*S)(nil)).Elem())
	if err != nil {
		return nil, err
	}

	lifetime, err := ParseLifetime(string(opts.Lifetime))
	if err != nil {
		return nil, err
	}

	if opts.Equality != nil {
		for i := range sc.fields {
			sc.fields[i].equal = opts.Equality
		}
	}
	for name, eq := range opts.FieldEquality {
		i, err := sc.lookup(name)
		if err != nil {
			return nil, fmt.Errorf("equality: %w", err)
		}
		if eq != nil {
			sc.fields[i].equal = eq
		}
	}

	for _, m := range opts.Meta {
		for _, f := range m.Fields {
			if _, err := sc.lookup(f); err != nil {
				return nil, fmt.Errorf("meta %q: %w", m.Key, err)
			}
		}
	}

	cfg := applyFactoryOptions(extra)
	for _, m := range cfg.meta {
		for _, f := range m.Fields {
			if _, err := sc.lookup(f); err != nil {
				return nil, fmt.Errorf("meta %q: %w", m.Key, err)
			}
		}
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("store-%d", storeSeq.Add(1))
	}

	info := &SpecInfo{
		DisplayName: name,
		Fields:      sc.names(),
		Meta:        append([]MetaEntry(nil), opts.Meta...),
		Lifetime:    lifetime,
	}

	spec := &Spec[S, A]{
		name: name,
		meta: cfg.meta,
		spec: info,
	}
	spec.fn = func(r *Resolver) (*Instance[S, A], error) {
		return newInstance(r, spec, sc, &opts)
	}
	return spec, nil
}

// MustStore is like Store but panics on an invalid spec
func MustStore[S, A any](opts Options[S, A], extra ...FactoryOption) *Spec[S, A] {
	spec, err := Store(opts, extra...)
	if err != nil {
		panic(err)
	}
	return spec
}
