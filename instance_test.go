package storion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count int `json:"count"`
}

type counterActions struct {
	Inc   func()
	Add   func(n int)
	Fail  func() error
	Sum   func(ns ...int) int
	Panic func()
}

func counterSpec(t *testing.T, opts Options[counterState, counterActions]) *Spec[counterState, counterActions] {
	t.Helper()
	if opts.Setup == nil {
		opts.Setup = func(ctx *SetupContext[counterState]) (counterActions, error) {
			return counterActionsOf(ctx), nil
		}
	}
	spec, err := Store(opts)
	require.NoError(t, err)
	return spec
}

// counterActionsOf fills every action so custom setups still pass action
// validation.
func counterActionsOf(ctx *SetupContext[counterState]) counterActions {
	return counterActions{
		Inc: ctx.Action(func(s *counterState) { s.Count++ }),
		Add: UpdateAction(ctx, func(s *counterState, n int) { s.Count += n }),
		Fail: func() error {
			return errors.New("failed on purpose")
		},
		Sum: func(ns ...int) int {
			total := 0
			for _, n := range ns {
				total += n
			}
			return total
		},
		Panic: func() { panic("kaboom") },
	}
}

func mustGet[T any](t *testing.T, src Source, f *Factory[T]) T {
	t.Helper()
	v, err := Get(src, f)
	require.NoError(t, err)
	return v
}

func TestStore_Validation(t *testing.T) {
	_, err := Store(Options[int, struct{}]{State: 1})
	require.Error(t, err)

	label := NewMeta[string]("label")
	_, err = Store(Options[counterState, struct{}]{
		Meta: []MetaEntry{label.ForFields("x", "missing")},
	})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = Store(Options[counterState, struct{}]{
		FieldEquality: map[string]EqualFunc{"nope": Deep},
	})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = Store(Options[counterState, struct{}]{Lifetime: "forever"})
	require.Error(t, err)
}

func TestStore_Info(t *testing.T) {
	label := NewMeta[string]("label")
	spec := counterSpec(t, Options[counterState, counterActions]{
		Name: "counter",
		Meta: []MetaEntry{label.ForFields("Counter", "count")},
	})

	info := spec.Info()
	assert.Equal(t, "counter", info.DisplayName)
	assert.Equal(t, []string{"count"}, info.Fields)
	assert.Equal(t, KeepAlive, info.Lifetime)
	assert.True(t, info.HasField("count"))
	assert.Equal(t, []string{"count"}, label.Fields(info.MetaView()))
}

func TestInstance_UniqueIDs(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{})
	r := NewResolver()

	a, err := Create(r, spec)
	require.NoError(t, err)
	b, err := Create(r, spec)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestInstance_DirtyAndReset(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{})
	inst := mustGet(t, NewResolver(), spec)

	assert.False(t, inst.Dirty("count"))
	require.NoError(t, inst.State().Set("count", 1))
	assert.True(t, inst.Dirty("count"))
	assert.True(t, inst.Dirty())

	var changes []Change
	inst.Subscribe(func(c Change) { changes = append(changes, c) })

	inst.Reset()
	assert.Equal(t, 0, Read[int](inst.State(), "count"))
	assert.False(t, inst.Dirty("count"))
	assert.Equal(t, []Change{{Key: "count", Old: 1, New: 0}}, changes)
}

func TestInstance_BaselineIsCapturedAfterSetup(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			ctx.Update(func(s *counterState) { s.Count = 10 })
			return counterActionsOf(ctx), nil
		},
	})
	inst := mustGet(t, NewResolver(), spec)

	assert.False(t, inst.Dirty("count"))
	require.NoError(t, inst.State().Set("count", 0))
	inst.Reset()
	assert.Equal(t, 10, Read[int](inst.State(), "count"))
}

func TestInstance_Hydrate(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{})

	t.Run("clean field is assigned with one notification", func(t *testing.T) {
		inst := mustGet(t, NewResolver(), spec)
		notified := 0
		inst.Subscribe(func(Change) { notified++ })

		require.NoError(t, inst.Hydrate(map[string]any{"count": 5}))
		assert.Equal(t, 5, Read[int](inst.State(), "count"))
		assert.Equal(t, 1, notified)
	})

	t.Run("dirty field is kept", func(t *testing.T) {
		inst := mustGet(t, NewResolver(), spec)
		require.NoError(t, inst.State().Set("count", 2))

		require.NoError(t, inst.Hydrate(map[string]any{"count": 5}))
		assert.Equal(t, 2, Read[int](inst.State(), "count"))
	})

	t.Run("force overwrites dirty field", func(t *testing.T) {
		inst := mustGet(t, NewResolver(), spec)
		require.NoError(t, inst.State().Set("count", 2))

		require.NoError(t, inst.Hydrate(map[string]any{"count": 5}, WithForce()))
		assert.Equal(t, 5, Read[int](inst.State(), "count"))
	})

	t.Run("unknown keys are ignored", func(t *testing.T) {
		inst := mustGet(t, NewResolver(), spec)
		require.NoError(t, inst.Hydrate(map[string]any{"other": true}))
	})

	t.Run("numbers are converted", func(t *testing.T) {
		inst := mustGet(t, NewResolver(), spec)
		require.NoError(t, inst.Hydrate(map[string]any{"count": float64(9)}))
		assert.Equal(t, 9, Read[int](inst.State(), "count"))
	})

	t.Run("fractional numbers are rejected", func(t *testing.T) {
		inst := mustGet(t, NewResolver(), spec)
		notified := 0
		inst.Observe(func(Change) { notified++ })

		err := inst.Hydrate(map[string]any{"count": 5.7})
		assert.ErrorIs(t, err, ErrLossyConversion)
		assert.Equal(t, 0, Read[int](inst.State(), "count"))
		assert.Zero(t, notified)

		assert.ErrorIs(t, inst.Hydrate(map[string]any{"count": 1e20}), ErrLossyConversion)
	})
}

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type profileState struct {
	Profile profile  `json:"profile"`
	Tags    []string `json:"tags"`
}

func TestInstance_HydrateDecodesNestedValues(t *testing.T) {
	spec, err := Store(Options[profileState, struct{}]{})
	require.NoError(t, err)
	inst := mustGet(t, NewResolver(), spec)

	require.NoError(t, inst.Hydrate(map[string]any{
		"profile": map[string]any{"name": "Alice", "age": 30},
		"tags":    []any{"a", "b"},
	}))
	assert.Equal(t, profile{Name: "Alice", Age: 30}, Read[profile](inst.State(), "profile"))
	assert.Equal(t, []string{"a", "b"}, Read[[]string](inst.State(), "tags"))

	err = inst.Hydrate(map[string]any{"profile": "not an object"}, WithForce())
	require.Error(t, err)
}

func TestInstance_DehydrateAndNormalize(t *testing.T) {
	plain := counterSpec(t, Options[counterState, counterActions]{State: counterState{Count: 3}})
	inst := mustGet(t, NewResolver(), plain)
	assert.Equal(t, map[string]any{"count": 3}, inst.Dehydrate())

	custom := counterSpec(t, Options[counterState, counterActions]{
		State: counterState{Count: 3},
		Normalize: func(s counterState) map[string]any {
			return map[string]any{"c": s.Count}
		},
		Denormalize: func(m map[string]any) map[string]any {
			return map[string]any{"count": m["c"]}
		},
	})
	inst2 := mustGet(t, NewResolver(), custom)
	snap := inst2.Dehydrate()
	assert.Equal(t, map[string]any{"c": 3}, snap)

	require.NoError(t, inst2.Hydrate(map[string]any{"c": 8}))
	assert.Equal(t, 8, Read[int](inst2.State(), "count"))
}

func TestInstance_DisposeTwiceIsNoop(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{})
	inst := mustGet(t, NewResolver(), spec)

	calls := 0
	inst.OnDispose(func() { calls++ })

	require.NoError(t, inst.Dispose())
	require.NoError(t, inst.Dispose())
	assert.True(t, inst.Disposed())
	assert.Equal(t, 1, calls)
}

func TestInstance_DisposeOrderAndErrors(t *testing.T) {
	var order []int
	spec := counterSpec(t, Options[counterState, counterActions]{
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			ctx.OnDispose(func() { order = append(order, 1) })
			ctx.OnDispose(func() { panic(errors.New("cleanup failed")) })
			ctx.OnDispose(func() { order = append(order, 3) })
			return counterActionsOf(ctx), nil
		},
	})
	inst := mustGet(t, NewResolver(), spec)

	err := inst.Dispose()
	require.Error(t, err)
	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, []int{1, 3}, order)
}

func TestInstance_OnDisposeAfterDisposeRunsImmediately(t *testing.T) {
	inst := mustGet(t, NewResolver(), counterSpec(t, Options[counterState, counterActions]{}))
	require.NoError(t, inst.Dispose())

	ran := false
	inst.OnDispose(func() { ran = true })
	assert.True(t, ran)
}

func TestInstance_ParentDisposeCascadesToCreatedChildren(t *testing.T) {
	child := counterSpec(t, Options[counterState, counterActions]{Name: "child"})

	var children []*Instance[counterState, counterActions]
	parent := counterSpec(t, Options[counterState, counterActions]{
		Name: "parent",
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			for i := 0; i < 2; i++ {
				c, err := Create(ctx, child)
				if err != nil {
					return counterActions{}, err
				}
				children = append(children, c)
			}
			return counterActionsOf(ctx), nil
		},
	})

	inst := mustGet(t, NewResolver(), parent)
	require.Len(t, children, 2)
	assert.NotSame(t, children[0], children[1])
	assert.Len(t, inst.Deps(), 2)

	require.NoError(t, inst.Dispose())
	assert.True(t, children[0].Disposed())
	assert.True(t, children[1].Disposed())
}

func TestInstance_DisposedInstanceIsEvicted(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{})
	r := NewResolver()

	first := mustGet(t, r, spec)
	require.NoError(t, first.Dispose())
	assert.False(t, r.Has(spec))

	second := mustGet(t, r, spec)
	assert.NotSame(t, first, second)
}

func TestSetup_LifetimeMismatch(t *testing.T) {
	short := counterSpec(t, Options[counterState, counterActions]{Name: "short", Lifetime: AutoDispose})

	viaGet := counterSpec(t, Options[counterState, counterActions]{
		Name: "long-get",
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			_, err := Get(ctx, short)
			return counterActions{}, err
		},
	})
	viaCreate := counterSpec(t, Options[counterState, counterActions]{
		Name: "long-create",
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			_, err := Create(ctx, short)
			return counterActions{}, err
		},
	})

	r := NewResolver()
	_, err := Get(r, viaGet)
	assert.ErrorIs(t, err, ErrLifetimeMismatch)
	_, err = Get(r, viaCreate)
	assert.ErrorIs(t, err, ErrLifetimeMismatch)
	assert.False(t, r.Has(short))
}

func TestSetup_PhaseOnlyOperations(t *testing.T) {
	dep := Const(1)
	var captured *SetupContext[counterState]
	spec := counterSpec(t, Options[counterState, counterActions]{
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			captured = ctx
			return counterActionsOf(ctx), nil
		},
	})
	_ = mustGet(t, NewResolver(), spec)

	_, err := Get(captured, dep)
	assert.ErrorIs(t, err, ErrSetupPhase)
	_, err = Create(captured, dep)
	assert.ErrorIs(t, err, ErrSetupPhase)
	_, err = FocusOn[int](captured, "count")
	assert.ErrorIs(t, err, ErrSetupPhase)
	_, err = Mixin(captured, func(*SetupContext[counterState]) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrSetupPhase)
}

func TestSetup_Mixin(t *testing.T) {
	type incActions struct {
		Inc func()
	}
	incrementer := func(ctx *SetupContext[counterState]) (func(), error) {
		return ctx.Action(func(s *counterState) { s.Count++ }), nil
	}

	spec, err := Store(Options[counterState, incActions]{
		Setup: func(ctx *SetupContext[counterState]) (incActions, error) {
			inc, err := Mixin(ctx, incrementer)
			return incActions{Inc: inc}, err
		},
	})
	require.NoError(t, err)

	inst := mustGet(t, NewResolver(), spec)
	inst.Actions().Inc()
	assert.Equal(t, 1, Read[int](inst.State(), "count"))
}

func TestSetup_ErrorDisposesPartialInstance(t *testing.T) {
	cleaned := false
	spec := counterSpec(t, Options[counterState, counterActions]{
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			ctx.OnDispose(func() { cleaned = true })
			return counterActions{}, errors.New("setup failed")
		},
	})

	_, err := Get(NewResolver(), spec)
	require.Error(t, err)
	assert.True(t, cleaned)
}

func TestActions_Wrapped(t *testing.T) {
	var events []DispatchEvent
	var reported []error
	spec := counterSpec(t, Options[counterState, counterActions]{
		OnDispatch: func(ev DispatchEvent) { events = append(events, ev) },
		OnError:    func(err error) { reported = append(reported, err) },
	})
	inst := mustGet(t, NewResolver(), spec)
	a := inst.Actions()

	a.Add(2)
	a.Inc()
	assert.Equal(t, 3, Read[int](inst.State(), "count"))
	assert.Equal(t, 6, a.Sum(1, 2, 3))

	require.Len(t, events, 3)
	assert.Equal(t, "Add", events[0].Action)
	assert.Equal(t, []any{2}, events[0].Args)
	assert.Equal(t, []any{6}, events[2].Results)

	err := a.Fail()
	require.Error(t, err)
	require.Len(t, reported, 1)
	var ae *ActionError
	require.ErrorAs(t, reported[0], &ae)
	assert.Equal(t, "Fail", ae.Action)

	assert.PanicsWithValue(t, "kaboom", func() { a.Panic() })
	require.Len(t, reported, 2)
	var pe *PanicError
	assert.ErrorAs(t, reported[1], &pe)
}

func TestActions_DisposedInstance(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{})
	inst := mustGet(t, NewResolver(), spec)
	a := inst.Actions()
	require.NoError(t, inst.Dispose())

	assert.ErrorIs(t, a.Fail(), ErrDisposed)
	assert.Panics(t, func() { a.Inc() })
}

func TestActions_InvalidShape(t *testing.T) {
	spec := counterSpec(t, Options[counterState, counterActions]{
		Setup: func(*SetupContext[counterState]) (counterActions, error) {
			return counterActions{Inc: func() {}}, nil
		},
	})

	_, err := Get(NewResolver(), spec)
	assert.ErrorIs(t, err, ErrInvalidAction)

	type notFunc struct {
		Value int
	}
	bad, err := Store(Options[counterState, notFunc]{
		Setup: func(*SetupContext[counterState]) (notFunc, error) {
			return notFunc{Value: 1}, nil
		},
	})
	require.NoError(t, err)
	_, err = Get(NewResolver(), bad)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestActions_ReadsAreUntracked(t *testing.T) {
	type readActions struct {
		Peek func() int
	}
	spec, err := Store(Options[counterState, readActions]{
		Setup: func(ctx *SetupContext[counterState]) (readActions, error) {
			return readActions{
				Peek: func() int { return Read[int](ctx.State(), "count") },
			}, nil
		},
	})
	require.NoError(t, err)

	r := NewResolver()
	inst := mustGet(t, r, spec)

	runs := 0
	stop := Effect(r, func(*EffectContext) error {
		runs++
		inst.Actions().Peek()
		return nil
	})
	defer stop()

	require.NoError(t, inst.State().Set("count", 4))
	assert.Equal(t, 1, runs)
}

func TestAutoDispose_GracePeriod(t *testing.T) {
	q := NewQueueScheduler()
	r := NewResolver(WithScheduler(q))
	spec := counterSpec(t, Options[counterState, counterActions]{
		Lifetime:    AutoDispose,
		GracePeriod: time.Second,
	})

	inst := mustGet(t, r, spec)
	unsub := inst.Subscribe(func(Change) {})
	assert.Equal(t, 1, inst.Refs())

	unsub()
	unsub()
	assert.Equal(t, 0, inst.Refs())
	assert.Equal(t, 1, q.Pending())

	q.Advance(500 * time.Millisecond)
	assert.False(t, inst.Disposed())

	q.Advance(500 * time.Millisecond)
	assert.True(t, inst.Disposed())
	assert.False(t, r.Has(spec))
}

func TestAutoDispose_ResubscribeCancels(t *testing.T) {
	q := NewQueueScheduler()
	r := NewResolver(WithScheduler(q), WithGracePeriod(time.Second))
	spec := counterSpec(t, Options[counterState, counterActions]{Lifetime: AutoDispose})

	inst := mustGet(t, r, spec)
	inst.Subscribe(func(Change) {})()
	inst.Subscribe(func(Change) {})

	q.Advance(2 * time.Second)
	assert.False(t, inst.Disposed())
	assert.Equal(t, 0, q.Pending())
}

func TestAutoDispose_KeepAliveIgnoresRefcount(t *testing.T) {
	q := NewQueueScheduler()
	r := NewResolver(WithScheduler(q))
	inst := mustGet(t, r, counterSpec(t, Options[counterState, counterActions]{}))

	inst.Subscribe(func(Change) {})()
	q.Advance(time.Hour)
	assert.False(t, inst.Disposed())
}

func TestAutoDispose_ObserveHoldsNoReference(t *testing.T) {
	q := NewQueueScheduler()
	r := NewResolver(WithScheduler(q))
	inst := mustGet(t, r, counterSpec(t, Options[counterState, counterActions]{Lifetime: AutoDispose}))

	seen := 0
	off := inst.Observe(func(Change) { seen++ })
	defer off()
	assert.Equal(t, 0, inst.Refs())

	require.NoError(t, inst.State().Set("count", 1))
	assert.Equal(t, 1, seen)
}

func TestAutoDispose_DependencyRetainedByOwner(t *testing.T) {
	q := NewQueueScheduler()
	r := NewResolver(WithScheduler(q))
	dep := counterSpec(t, Options[counterState, counterActions]{Name: "dep", Lifetime: AutoDispose})

	var depInst *Instance[counterState, counterActions]
	owner := counterSpec(t, Options[counterState, counterActions]{
		Name:     "owner",
		Lifetime: AutoDispose,
		Setup: func(ctx *SetupContext[counterState]) (counterActions, error) {
			d, err := Get(ctx, dep)
			if err != nil {
				return counterActions{}, err
			}
			depInst = d
			return counterActionsOf(ctx), nil
		},
	})

	inst := mustGet(t, r, owner)
	assert.Equal(t, 1, depInst.Refs())

	require.NoError(t, inst.Dispose())
	assert.Equal(t, 0, depInst.Refs())
	q.Flush()
	assert.True(t, depInst.Disposed())
}

func TestLease_UncommitThenCommitKeepsInstance(t *testing.T) {
	q := NewQueueScheduler()
	r := NewResolver(WithScheduler(q))
	inst := mustGet(t, r, counterSpec(t, Options[counterState, counterActions]{Lifetime: AutoDispose}))

	lease := inst.Lease()
	lease.Commit()
	lease.Uncommit()
	lease.Commit()
	q.Flush()

	assert.False(t, inst.Disposed())
	assert.Equal(t, 1, inst.Refs())
	assert.True(t, lease.Committed())

	lease.Uncommit()
	q.Flush()
	assert.True(t, inst.Disposed())
}

func TestLease_DefaultSchedulerDefersUntilFlush(t *testing.T) {
	r := NewResolver()
	q, ok := r.Scheduler().(*QueueScheduler)
	require.True(t, ok)
	inst := mustGet(t, r, counterSpec(t, Options[counterState, counterActions]{Lifetime: AutoDispose}))

	lease := inst.Lease()
	for i := 0; i < 300; i++ {
		lease.Commit()
		lease.Uncommit()
		time.Sleep(10 * time.Microsecond)
		lease.Commit()
		require.False(t, inst.Disposed(), "cycle %d", i)
	}
	q.Flush()
	assert.False(t, inst.Disposed())
	assert.Equal(t, 1, inst.Refs())

	lease.Uncommit()
	assert.False(t, inst.Disposed())
	q.Flush()
	assert.True(t, inst.Disposed())
}

func TestAutoDispose_DefaultScheduler(t *testing.T) {
	r := NewResolver(WithGracePeriod(time.Second))
	q := r.Scheduler().(*QueueScheduler)
	inst := mustGet(t, r, counterSpec(t, Options[counterState, counterActions]{Lifetime: AutoDispose}))

	inst.Subscribe(func(Change) {})()
	time.Sleep(time.Millisecond)
	assert.False(t, inst.Disposed())
	assert.Equal(t, 1, q.Pending())

	q.Advance(time.Second)
	assert.True(t, inst.Disposed())
}
