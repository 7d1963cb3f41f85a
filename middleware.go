package storion

// Kind discriminates what a middleware is wrapping
type Kind string

const (
	// KindFactory indicates a plain factory invocation
	KindFactory Kind = "factory"
	// KindStore indicates a store spec being instantiated
	KindStore Kind = "store"
)

// MiddlewareContext describes the factory invocation being intercepted
type MiddlewareContext struct {
	Type        Kind
	Factory     AnyFactory
	Resolver    *Resolver
	DisplayName string
	Meta        MetaView
	// Spec is set when Type is KindStore.
	Spec *SpecInfo

	next func() (any, error)
}

// Next continues the chain. A middleware that returns without calling Next
// short-circuits the factory and its result replaces the factory's value.
func (c *MiddlewareContext) Next() (any, error) {
	return c.next()
}

// Middleware intercepts factory invocations
type Middleware func(ctx *MiddlewareContext) (any, error)

// ForStores applies mw to store specs only
func ForStores(mw Middleware) Middleware {
	return When(func(ctx *MiddlewareContext) bool {
		return ctx.Type == KindStore
	}, mw)
}

// ForFactories applies mw to plain factories only
func ForFactories(mw Middleware) Middleware {
	return When(func(ctx *MiddlewareContext) bool {
		return ctx.Type == KindFactory
	}, mw)
}

// When applies mw to invocations matching pred
func When(pred func(*MiddlewareContext) bool, mw Middleware) Middleware {
	return func(ctx *MiddlewareContext) (any, error) {
		if !pred(ctx) {
			return ctx.Next()
		}
		return mw(ctx)
	}
}

// Compose folds several middleware into one; the first is outermost.
func Compose(mws ...Middleware) Middleware {
	return func(ctx *MiddlewareContext) (any, error) {
		return runChain(ctx, mws, ctx.next)
	}
}

func runChain(base *MiddlewareContext, mws []Middleware, last func() (any, error)) (any, error) {
	next := last
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		inner := next
		next = func() (any, error) {
			ctx := *base
			ctx.next = inner
			return mw(&ctx)
		}
	}
	return next()
}
