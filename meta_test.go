package storion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeta_Query(t *testing.T) {
	persist := NewMeta[bool]("persist")
	label := NewMeta[string]("label")

	view := newMetaView(
		[]MetaEntry{label.Of("factory-level")},
		[]MetaEntry{
			persist.ForFields(true, "a", "b"),
			persist.ForFields(true, "b", "c"),
			label.Of("spec-level"),
		},
	)

	assert.Equal(t, "persist", persist.Key())
	assert.Equal(t, 4, view.Len())

	v, ok := label.Get(view)
	assert.True(t, ok)
	assert.Equal(t, "factory-level", v)
	assert.Equal(t, []string{"factory-level", "spec-level"}, label.All(view))

	assert.True(t, persist.Has(view))
	assert.Equal(t, []string{"a", "b", "c"}, persist.Fields(view))
	assert.Empty(t, label.Fields(view))

	missing := NewMeta[int]("missing")
	_, ok = missing.Get(view)
	assert.False(t, ok)
	assert.Equal(t, 9, missing.GetOrDefault(view, 9))
	assert.False(t, missing.Has(view))
}

func TestMeta_TypeMismatchIsSkipped(t *testing.T) {
	asString := NewMeta[string]("shared")
	asInt := NewMeta[int]("shared")

	view := newMetaView([]MetaEntry{asString.Of("text")})
	_, ok := asInt.Get(view)
	assert.False(t, ok)
	assert.True(t, asInt.Has(view))
}

func TestMeta_FactoryAndSpecMerge(t *testing.T) {
	owner := NewMeta[string]("owner")
	persist := NewMeta[bool]("persist")

	spec := MustStore(Options[counterState, struct{}]{
		Meta: []MetaEntry{persist.ForFields(true, "count")},
	}, WithMeta(owner.Of("team-a")))

	view := spec.MetaView()
	assert.Equal(t, "team-a", owner.GetOrDefault(view, ""))
	assert.Equal(t, []string{"count"}, persist.Fields(view))

	entries := view.Entries()
	entries[0].Key = "mutated"
	assert.True(t, owner.Has(spec.MetaView()))
}
