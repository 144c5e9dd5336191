package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	ojs "github.com/openjobspec/ojs-otel-go"
)

func newTestContext(jobType, jobID, queue string, attempt int) ojs.JobContext {
	return ojs.NewJobContextForTest(&ojs.Job{
		ID:      jobID,
		Type:    jobType,
		Queue:   queue,
		Attempt: attempt,
	})
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// --- Logging tests ---

func TestLogging_Success(t *testing.T) {
	logger, logs := newObservedLogger()

	mw := Logging(logger)
	ctx := newTestContext("email.send", "j-1", "email", 1)

	require.NoError(t, mw(ctx, func(ctx ojs.JobContext) error { return nil }))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "job started", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "email.send", entries[0].ContextMap()["job.type"])
	assert.Equal(t, "email", entries[0].ContextMap()["job.queue"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["job.attempt"])

	assert.Equal(t, "job completed", entries[1].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Contains(t, entries[1].ContextMap(), "duration_ms")
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

func TestLogging_Error(t *testing.T) {
	logger, logs := newObservedLogger()

	mw := Logging(logger)
	ctx := newTestContext("email.send", "j-2", "default", 2)

	handlerErr := errors.New("smtp connection failed")
	err := mw(ctx, func(ctx ojs.JobContext) error { return handlerErr })
	assert.ErrorIs(t, err, handlerErr)

	entries := logs.FilterMessage("job failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "smtp connection failed", entries[0].ContextMap()["error"])
}

func TestLogging_TraceFields(t *testing.T) {
	logger, logs := newObservedLogger()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	jctx := newTestContext("email.send", "j-3", "default", 1)
	jctx = jctx.WithContext(trace.ContextWithSpanContext(context.Background(), sc))

	require.NoError(t, Logging(logger)(jctx, func(ojs.JobContext) error { return nil }))

	for _, e := range logs.All() {
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", e.ContextMap()["trace_id"])
		assert.Equal(t, "00f067aa0ba902b7", e.ContextMap()["span_id"])
	}
}

func TestLogging_NilLogger(t *testing.T) {
	mw := Logging(nil)
	ctx := newTestContext("test", "j-3", "default", 1)
	assert.NoError(t, mw(ctx, func(ctx ojs.JobContext) error { return nil }))
}

// --- Recovery tests ---

func TestRecovery_NoPanic(t *testing.T) {
	mw := Recovery(nil)
	ctx := newTestContext("test", "j-4", "default", 1)
	assert.NoError(t, mw(ctx, func(ctx ojs.JobContext) error { return nil }))
}

func TestRecovery_PanicString(t *testing.T) {
	logger, logs := newObservedLogger()

	mw := Recovery(logger)
	ctx := newTestContext("test.panic", "j-5", "default", 1)

	err := mw(ctx, func(ctx ojs.JobContext) error {
		panic("something went wrong")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "something went wrong")
	assert.Contains(t, err.Error(), "test.panic")

	entries := logs.FilterMessage("job panicked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "j-5", entries[0].ContextMap()["job.id"])
	stack, _ := entries[0].ContextMap()["stack"].(string)
	assert.True(t, strings.Contains(stack, "goroutine"), "stack trace logged")
}

func TestRecovery_PanicError(t *testing.T) {
	mw := Recovery(nil)
	ctx := newTestContext("test", "j-6", "default", 1)

	err := mw(ctx, func(ctx ojs.JobContext) error {
		panic(fmt.Errorf("runtime error"))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime error")
}

func TestRecovery_HandlerError(t *testing.T) {
	mw := Recovery(nil)
	ctx := newTestContext("test", "j-7", "default", 1)
	handlerErr := errors.New("handler failed")

	err := mw(ctx, func(ctx ojs.JobContext) error { return handlerErr })
	assert.ErrorIs(t, err, handlerErr)
}

// --- Metrics tests ---

func newRegisteredRecorder(t *testing.T) *PrometheusRecorder {
	t.Helper()
	rec := NewPrometheusRecorder()
	require.NoError(t, prometheus.NewPedanticRegistry().Register(rec))
	return rec
}

func TestMetrics_Success(t *testing.T) {
	rec := newRegisteredRecorder(t)
	mw := Metrics(rec)
	ctx := newTestContext("email.send", "j-8", "email", 2)

	err := mw(ctx, func(ctx ojs.JobContext) error {
		assert.Equal(t, 1.0, testutil.ToFloat64(rec.active.WithLabelValues("email")), "active while running")
		time.Sleep(time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.started.WithLabelValues("email.send", "email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.finished.WithLabelValues("email.send", "email", string(OutcomeCompleted))))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.finished.WithLabelValues("email.send", "email", string(OutcomeFailed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.active.WithLabelValues("email")))
}

func TestMetrics_Failure(t *testing.T) {
	rec := newRegisteredRecorder(t)
	mw := Metrics(rec)
	ctx := newTestContext("data.process", "j-9", "default", 3)
	handlerErr := errors.New("processing failed")

	err := mw(ctx, func(ctx ojs.JobContext) error { return handlerErr })
	assert.ErrorIs(t, err, handlerErr)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.finished.WithLabelValues("data.process", "default", string(OutcomeFailed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.finished.WithLabelValues("data.process", "default", string(OutcomeCompleted))))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.active.WithLabelValues("default")))
}

func TestMetrics_PanicPassesThrough(t *testing.T) {
	rec := newRegisteredRecorder(t)
	mw := Metrics(rec)
	ctx := newTestContext("data.process", "j-10", "default", 1)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = mw(ctx, func(ojs.JobContext) error { panic("kaboom") })
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.finished.WithLabelValues("data.process", "default", string(OutcomePanicked))))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.active.WithLabelValues("default")), "gauge released on panic")
}

func TestMetrics_UnderRecovery(t *testing.T) {
	rec := newRegisteredRecorder(t)
	ctx := newTestContext("data.process", "j-11", "default", 1)

	recovery, metrics := Recovery(nil), Metrics(rec)
	err := recovery(ctx, func(ctx ojs.JobContext) error {
		return metrics(ctx, func(ojs.JobContext) error { panic("kaboom") })
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.finished.WithLabelValues("data.process", "default", string(OutcomePanicked))))
}

func TestPrometheusRecorder(t *testing.T) {
	rec := NewPrometheusRecorder()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(rec))

	mw := Metrics(rec)
	ok := newTestContext("email.send", "j-12", "email", 1)
	bad := newTestContext("email.send", "j-13", "email", 4)

	require.NoError(t, mw(ok, func(ojs.JobContext) error { return nil }))
	require.Error(t, mw(bad, func(ojs.JobContext) error { return errors.New("boom") }))

	n, err := testutil.GatherAndCount(reg, "ojs_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")

	n, err = testutil.GatherAndCount(reg, "ojs_job_attempt")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP ojs_jobs_finished_total Number of job executions finished, by outcome
# TYPE ojs_jobs_finished_total counter
ojs_jobs_finished_total{job_type="email.send",outcome="completed",queue="email"} 1
ojs_jobs_finished_total{job_type="email.send",outcome="failed",queue="email"} 1
`), "ojs_jobs_finished_total")
	assert.NoError(t, err)
}
