// Package otelojs traces the lifecycle of OJS jobs with OpenTelemetry.
//
// An [Instrumentor] wraps the hook points of an [ojs.HookTable] so that
// every job produces one connected trace, even though the producer and the
// worker only share the broker:
//
//	publish orders            PRODUCER  trace context written to Job.Meta
//	consume orders            CONSUMER  parent read back from Job.Meta
//	├── perform               CLIENT    handler and middleware
//	├── success_callback      CLIENT    only when the job has one
//	└── handle_job_success    CLIENT    acknowledgement
//
// Spans carry messaging.* attributes along with ojs.job.id and ojs.job.type.
// A failing operation marks its span as an error and records the error or
// panic, which is then passed on unchanged. After each consumed job the
// tracer provider is flushed so that short-lived workers lose no spans.
//
// # Usage
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	inst := otelojs.New(otelojs.WithTracerProvider(tp))
//	if err := inst.Instrument(); err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Uninstrument()
//
// # Metrics
//
// The [Metrics] middleware records job counters and a duration histogram:
//
//	worker.UseNamed("metrics", otelojs.Metrics(
//	    otelojs.WithMeterProvider(mp),
//	))
package otelojs
