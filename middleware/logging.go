// Package middleware holds resolver middleware for storion: structured
// logging, dependency graph debugging, prometheus metrics and tracing.
package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/pumped-fn/storion"
)

// Logging logs every factory invocation with its duration
func Logging(logger *zap.Logger) storion.Middleware {
	return func(ctx *storion.MiddlewareContext) (any, error) {
		fields := []zap.Field{
			zap.String("name", ctx.DisplayName),
			zap.String("type", string(ctx.Type)),
		}

		start := time.Now()
		logger.Debug("resolve starting", fields...)
		result, err := ctx.Next()

		fields = append(fields, zap.Duration("duration", time.Since(start)))
		if err != nil {
			logger.Error("resolve failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("resolve completed", fields...)
		}

		return result, err
	}
}
