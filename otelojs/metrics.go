package otelojs

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Metrics returns worker middleware that records job execution metrics via
// the OTel metrics API.
//
// Recorded instruments:
//   - ojs.job.started (counter): incremented when a job begins
//   - ojs.job.completed (counter): incremented on success
//   - ojs.job.failed (counter): incremented on failure
//   - ojs.job.duration (histogram, milliseconds): execution duration
//
// Only [WithMeterProvider] applies; other options are ignored.
func Metrics(opts ...Option) ojs.MiddlewareFunc {
	meter := newConfig(opts).meter()

	jobStarted, _ := meter.Int64Counter("ojs.job.started",
		metric.WithDescription("Number of jobs started"),
	)
	jobCompleted, _ := meter.Int64Counter("ojs.job.completed",
		metric.WithDescription("Number of jobs completed successfully"),
	)
	jobFailed, _ := meter.Int64Counter("ojs.job.failed",
		metric.WithDescription("Number of jobs that failed"),
	)
	jobDuration, _ := meter.Float64Histogram("ojs.job.duration",
		metric.WithDescription("Job execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return func(ctx ojs.JobContext, next ojs.HandlerFunc) error {
		attrs := metric.WithAttributes(
			MessagingSystemKey.String(MessagingSystem),
			JobTypeKey.String(ctx.Job.Type),
			MessagingDestinationKey.String(ctx.Queue),
		)
		c := ctx.Context()

		jobStarted.Add(c, 1, attrs)

		start := time.Now()
		err := next(ctx)
		durationMS := float64(time.Since(start).Microseconds()) / 1000.0

		jobDuration.Record(c, durationMS, attrs)

		if err != nil {
			jobFailed.Add(c, 1, attrs)
		} else {
			jobCompleted.Add(c, 1, attrs)
		}

		return err
	}
}
