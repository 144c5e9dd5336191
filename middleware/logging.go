package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Logging returns middleware that logs job execution using logger. Each job
// execution produces two log entries: one at start (DEBUG level) and one at
// completion (INFO on success, ERROR on failure).
//
// Fields include job.type, job.id, job.queue, job.attempt, duration_ms on
// completion and, inside a span, trace_id and span_id.
func Logging(logger *zap.Logger) ojs.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx ojs.JobContext, next ojs.HandlerFunc) error {
		fields := []zap.Field{
			zap.String("job.type", ctx.Job.Type),
			zap.String("job.id", ctx.Job.ID),
			zap.String("job.queue", ctx.Queue),
			zap.Int("job.attempt", ctx.Attempt),
		}
		fields = append(fields, traceFields(ctx.Context())...)

		logger.Debug("job started", fields...)

		start := time.Now()
		err := next(ctx)
		duration := time.Since(start)

		fields = append(fields, zap.Float64("duration_ms", float64(duration.Microseconds())/1000.0))

		if err != nil {
			logger.Error("job failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("job completed", fields...)
		}

		return err
	}
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
