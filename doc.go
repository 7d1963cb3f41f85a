// Package storion provides a reactive state container with built-in dependency injection for Go.
//
// # Overview
//
// Storion organizes code around four core concepts:
//
//  1. Factories: identity-keyed constructors resolved and cached by a Resolver
//  2. Stores: specifications describing state shape, setup logic and lifetime
//  3. Instances: live stores with reactive state, wrapped actions and disposal
//  4. Tracking: effects, picks and focuses that react to exactly what they read
//
// # Basic Usage
//
// Declare a store with a state struct and a setup function returning actions:
//
//	type counterState struct {
//	    Count int `json:"count"`
//	}
//
//	type counterActions struct {
//	    Inc func()
//	    Add func(n int)
//	}
//
//	counter := storion.MustStore(storion.Options[counterState, counterActions]{
//	    Name:  "counter",
//	    State: counterState{},
//	    Setup: func(ctx *storion.SetupContext[counterState]) (counterActions, error) {
//	        return counterActions{
//	            Inc: ctx.Action(func(s *counterState) { s.Count++ }),
//	            Add: storion.UpdateAction(ctx, func(s *counterState, n int) { s.Count += n }),
//	        }, nil
//	    },
//	})
//
// Resolve instances through a container:
//
//	c := storion.NewContainer()
//	inst, err := storion.Get(c, counter)
//	inst.Actions().Inc()
//	fmt.Println(storion.Read[int](inst.State(), "count"))
//
// # Dependencies
//
// Setup may fetch other stores and plain factories. Get returns the cached
// instance, Create always builds a fresh child that is disposed with its
// parent:
//
//	cart := storion.MustStore(storion.Options[cartState, cartActions]{
//	    Setup: func(ctx *storion.SetupContext[cartState]) (cartActions, error) {
//	        user, err := storion.Get(ctx, userStore)
//	        if err != nil {
//	            return cartActions{}, err
//	        }
//	        ...
//	    },
//	})
//
// Get, Create, FocusOn and Mixin are only valid while setup runs. A keepAlive
// store may not depend on an autoDispose store.
//
// # Overrides and Scopes
//
// Overrides replace a factory with a value or another factory and evict the
// cached value:
//
//	storion.Override(r, apiClient, fakeClient)
//
// Scope creates a child resolver. A child without overrides reads through to
// its parent; once it has an override it resolves everything itself.
//
//	test := r.Scope()
//	test.Set(userStore, guestStore)
//
// # Middleware
//
// Middleware wraps every factory invocation. The first registered middleware
// is outermost:
//
//	r := storion.NewResolver(storion.WithMiddleware(
//	    middleware.Logging(logger),
//	    storion.ForStores(func(ctx *storion.MiddlewareContext) (any, error) {
//	        v, err := ctx.Next()
//	        ...
//	        return v, err
//	    }),
//	))
//
// # Reactive Tracking
//
// Effects record the state fields they read and re-run synchronously when one
// of them changes. Pick turns a derived expression into a single dependency
// that only fires when its result changes:
//
//	stop := storion.Effect(r, func(ec *storion.EffectContext) error {
//	    name := storion.Pick(ec, func() string {
//	        return storion.Read[Profile](inst.State(), "profile").Name
//	    })
//	    fmt.Println("hello", name)
//	    return nil
//	})
//	defer stop()
//
// # Focus
//
// A focus is a typed lens on a dot path inside the state:
//
//	street, _ := storion.FocusOn[string](ctx, "address.street",
//	    storion.WithFallback(func() string { return "unknown" }))
//	street.Set("Main St")
//	street.On(func(ch storion.FocusChange[string]) { ... })
//
// # Lifetimes
//
// AutoDispose instances count Subscribe calls and leases. When the count
// drops to zero they are disposed after the grace period unless a new
// subscriber arrives first. Observe subscribes without holding a reference.
//
// Disposal runs on the resolver's Scheduler. The default QueueScheduler
// holds deferred work until the host calls Flush or Advance:
//
//	q := r.Scheduler().(*storion.QueueScheduler)
//	q.Flush()
//
// # Persistence
//
// Dehydrate returns a snapshot suitable for storage and Hydrate restores it,
// skipping fields the user already changed unless WithForce is given.
package storion
