// Package middleware provides pre-built middleware for OJS workers.
//
// All middleware in this package follows the OJS MiddlewareFunc signature
// and can be added to a worker via [ojs.Worker.Use] or [ojs.Worker.UseNamed].
//
// # Logging
//
// The [Logging] middleware emits structured zap log entries for every job
// execution, including job type, ID, attempt, duration and error. When the
// job runs inside a span the entries carry trace_id and span_id:
//
//	worker.UseNamed("logging", middleware.Logging(logger))
//
// # Recovery
//
// The [Recovery] middleware catches panics in downstream handlers and converts
// them to errors, preventing a single job from crashing the worker:
//
//	worker.UseNamed("recovery", middleware.Recovery(logger))
//
// # Metrics
//
// The [Metrics] middleware feeds a [PrometheusRecorder]: started and finished
// executions, finished ones keyed by [Outcome], active jobs per queue, and
// durations and attempt numbers:
//
//	rec := middleware.NewPrometheusRecorder()
//	prometheus.MustRegister(rec)
//	worker.UseNamed("prometheus", middleware.Metrics(rec))
package middleware
