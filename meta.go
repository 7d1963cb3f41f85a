package storion

// MetaEntry is one piece of metadata attached to a factory or a store spec.
// Fields optionally narrows the entry to specific state fields.
type MetaEntry struct {
	Key    string
	Value  any
	Fields []string
}

// MetaKey provides type-safe metadata for factories and specs
type MetaKey[T any] struct {
	key string
}

// NewMeta creates a new metadata key
func NewMeta[T any](key string) MetaKey[T] {
	return MetaKey[T]{key: key}
}

// Key returns the key name
func (m MetaKey[T]) Key() string {
	return m.key
}

// Of builds an entry that applies to the whole spec
func (m MetaKey[T]) Of(val T) MetaEntry {
	return MetaEntry{Key: m.key, Value: val}
}

// ForFields builds an entry that applies to the named state fields. Store
// validates the names against the state shape.
func (m MetaKey[T]) ForFields(val T, fields ...string) MetaEntry {
	return MetaEntry{Key: m.key, Value: val, Fields: fields}
}

// Get returns the first value stored under this key
func (m MetaKey[T]) Get(view MetaView) (T, bool) {
	for _, e := range view.entries {
		if e.Key != m.key {
			continue
		}
		if v, ok := e.Value.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// GetOrDefault returns the first value or defaultVal
func (m MetaKey[T]) GetOrDefault(view MetaView, defaultVal T) T {
	if v, ok := m.Get(view); ok {
		return v
	}
	return defaultVal
}

// All returns every value stored under this key, in declaration order
func (m MetaKey[T]) All(view MetaView) []T {
	var out []T
	for _, e := range view.entries {
		if e.Key != m.key {
			continue
		}
		if v, ok := e.Value.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Has reports whether any entry uses this key
func (m MetaKey[T]) Has(view MetaView) bool {
	for _, e := range view.entries {
		if e.Key == m.key {
			return true
		}
	}
	return false
}

// Fields returns the union of field names targeted by entries of this key
func (m MetaKey[T]) Fields(view MetaView) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range view.entries {
		if e.Key != m.key {
			continue
		}
		for _, f := range e.Fields {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// MetaView is a read-only query view over merged factory and spec metadata
type MetaView struct {
	entries []MetaEntry
}

func newMetaView(lists ...[]MetaEntry) MetaView {
	var entries []MetaEntry
	for _, l := range lists {
		entries = append(entries, l...)
	}
	return MetaView{entries: entries}
}

// Entries returns a copy of the merged entries
func (v MetaView) Entries() []MetaEntry {
	out := make([]MetaEntry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Len returns the number of entries
func (v MetaView) Len() int {
	return len(v.entries)
}
