package middleware

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pumped-fn/storion"
)

const tracerName = "github.com/pumped-fn/storion"

// Tracing starts one span per factory invocation. Invocations nested inside
// another factory become child spans.
func Tracing(tp trace.TracerProvider) storion.Middleware {
	tracer := tp.Tracer(tracerName)

	var mu sync.Mutex
	var parents []context.Context

	return func(mctx *storion.MiddlewareContext) (any, error) {
		mu.Lock()
		parent := context.Background()
		if n := len(parents); n > 0 {
			parent = parents[n-1]
		}
		mu.Unlock()

		attrs := []attribute.KeyValue{
			attribute.String("storion.name", mctx.DisplayName),
			attribute.String("storion.type", string(mctx.Type)),
		}
		if mctx.Spec != nil {
			attrs = append(attrs,
				attribute.String("storion.lifetime", mctx.Spec.Lifetime.String()),
				attribute.StringSlice("storion.fields", mctx.Spec.Fields),
			)
		}

		ctx, span := tracer.Start(parent, "storion.resolve "+mctx.DisplayName, trace.WithAttributes(attrs...))
		defer span.End()

		mu.Lock()
		parents = append(parents, ctx)
		mu.Unlock()
		defer func() {
			mu.Lock()
			parents = parents[:len(parents)-1]
			mu.Unlock()
		}()

		result, err := mctx.Next()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		if inst, ok := result.(storion.AnyInstance); ok {
			span.SetAttributes(attribute.String("storion.instance", inst.ID()))
		}
		return result, nil
	}
}
