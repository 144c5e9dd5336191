package otelojs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	ojs "github.com/openjobspec/ojs-otel-go"
	"github.com/openjobspec/ojs-otel-go/ojstesting"
)

type countingFlusher struct {
	calls    int
	deadline bool
	err      error
}

func (f *countingFlusher) ForceFlush(ctx context.Context) error {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return f.err
}

func newTestWrapper(t *testing.T, point ojs.HookPoint) (*wrapper, *tracetest.SpanRecorder) {
	t.Helper()
	tp, recorder := ojstesting.NewTracerProvider(t)
	var spec HookSpec
	for _, s := range Registry() {
		if s.Point == point {
			spec = s
		}
	}
	require.True(t, spec.Point.Valid(), "no spec for %s", point)
	return &wrapper{
		spec:         spec,
		tracer:       tp.Tracer(instrumentationName),
		propagator:   propagation.TraceContext{},
		flushTimeout: time.Second,
		base:         baseAttributes(),
		logger:       zap.NewNop(),
	}, recorder
}

func TestWrapperPassesResultThrough(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookJobPerform)
	job := &ojs.Job{ID: "j1", Type: "email.send"}

	var inner trace.SpanContext
	res, err := w.intercept(context.Background(), ojs.Call{Receiver: job}, func(ctx context.Context, _ ojs.Call) (any, error) {
		inner = trace.SpanContextFromContext(ctx)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "perform", spans[0].Name())
	assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID(), "next runs inside the span")
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestWrapperRecordsError(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookJobPerform)
	want := errors.New("smtp down")

	_, err := w.intercept(context.Background(), ojs.Call{Receiver: &ojs.Job{ID: "j1"}}, func(context.Context, ojs.Call) (any, error) {
		return nil, want
	})
	assert.Same(t, want, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "smtp down", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestWrapperRepanics(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookJobPerform)

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = w.intercept(context.Background(), ojs.Call{Receiver: &ojs.Job{ID: "j1"}}, func(context.Context, ojs.Call) (any, error) {
			panic("kaboom")
		})
	})

	spans := recorder.Ended()
	require.Len(t, spans, 1, "span ended before the panic propagates")
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "panic: kaboom", spans[0].Status().Description)
}

func TestWrapperRepanicsErrorValue(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookJobPerform)
	boom := errors.New("boom")

	assert.PanicsWithError(t, "boom", func() {
		_, _ = w.intercept(context.Background(), ojs.Call{Receiver: &ojs.Job{}}, func(context.Context, ojs.Call) (any, error) {
			panic(boom)
		})
	})
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "boom", recorder.Ended()[0].Status().Description)
}

func TestWrapperSkipsJobsWithoutCallback(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookSuccessCallback)

	called := false
	res, err := w.intercept(context.Background(), ojs.Call{Receiver: &ojs.Job{ID: "j1"}}, func(context.Context, ojs.Call) (any, error) {
		called = true
		return "ran", nil
	})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, called, "the original call is skipped")
	assert.Empty(t, recorder.Ended())

	_, err = w.intercept(context.Background(), ojs.Call{Receiver: &ojs.Job{ID: "j2", OnSuccess: "notify"}}, func(context.Context, ojs.Call) (any, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "success_callback", recorder.Ended()[0].Name())
}

func TestWrapperWithoutSDKObjects(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookHandleJobSuccess)

	_, err := w.intercept(context.Background(), ojs.Call{Args: []any{"not a job", 42}}, func(context.Context, ojs.Call) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "handle_job_success", spans[0].Name())
	_, hasID := attr(spans[0], JobIDKey)
	assert.False(t, hasID)
	assertAttr(t, spans[0], MessagingSystemKey, MessagingSystem)
}

func TestWrapperFlushesAfterConsume(t *testing.T) {
	w, _ := newTestWrapper(t, ojs.HookPerformJob)
	f := &countingFlusher{}
	w.flusher = f

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.intercept(ctx, ojs.Call{Args: []any{&ojs.Job{ID: "j1"}}}, func(context.Context, ojs.Call) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.True(t, f.deadline, "flush is bounded by a timeout")
}

func TestWrapperFlushesAfterPanic(t *testing.T) {
	w, _ := newTestWrapper(t, ojs.HookPerformJob)
	f := &countingFlusher{}
	w.flusher = f

	assert.Panics(t, func() {
		_, _ = w.intercept(context.Background(), ojs.Call{}, func(context.Context, ojs.Call) (any, error) {
			panic("kaboom")
		})
	})
	assert.Equal(t, 1, f.calls)
}

func TestWrapperDoesNotFlushOtherHooks(t *testing.T) {
	w, _ := newTestWrapper(t, ojs.HookEnqueueJob)
	f := &countingFlusher{}
	w.flusher = f

	_, err := w.intercept(context.Background(), ojs.Call{Args: []any{&ojs.Job{ID: "j1"}}}, func(context.Context, ojs.Call) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, f.calls)
}

func TestWrapperLogsFlushFailure(t *testing.T) {
	w, _ := newTestWrapper(t, ojs.HookPerformJob)
	core, logs := observer.New(zapcore.WarnLevel)
	w.logger = zap.New(core)
	w.flusher = &countingFlusher{err: errors.New("collector unreachable")}

	_, err := w.intercept(context.Background(), ojs.Call{}, func(context.Context, ojs.Call) (any, error) {
		return nil, nil
	})
	require.NoError(t, err, "flush failures never reach the caller")

	entries := logs.FilterMessage("force flush failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(ojs.HookPerformJob), entries[0].ContextMap()["hook"])
	assert.Equal(t, "collector unreachable", entries[0].ContextMap()["error"])
}

func TestWrapperInjectsIntoJobWithoutMeta(t *testing.T) {
	w, recorder := newTestWrapper(t, ojs.HookEnqueueJob)
	job := &ojs.Job{ID: "j1", Type: "email.send"}

	_, err := w.intercept(context.Background(), ojs.Call{Args: []any{job}}, func(context.Context, ojs.Call) (any, error) {
		require.Contains(t, job.Meta, "traceparent", "context is written before the broker call")
		return nil, nil
	})
	require.NoError(t, err)
	require.Len(t, recorder.Ended(), 1)
}
