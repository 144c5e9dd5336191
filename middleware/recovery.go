package middleware

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Recovery returns middleware that recovers from panics in downstream
// handlers and converts them to errors. This prevents a single panicking
// job from crashing the entire worker process.
//
// If a logger is provided, the panic value and stack trace are logged
// at ERROR level. Pass nil to disable panic logging.
//
// Installed with [ojs.Worker.UseFirst], Recovery runs inside the perform
// span, so the span sees the converted error rather than the panic.
func Recovery(logger *zap.Logger) ojs.MiddlewareFunc {
	return func(ctx ojs.JobContext, next ojs.HandlerFunc) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					fields := []zap.Field{
						zap.String("job.type", ctx.Job.Type),
						zap.String("job.id", ctx.Job.ID),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					}
					logger.Error("job panicked", append(fields, traceFields(ctx.Context())...)...)
				}

				retErr = fmt.Errorf("panic in job %s (id=%s): %v", ctx.Job.Type, ctx.Job.ID, r)
			}
		}()
		return next(ctx)
	}
}
