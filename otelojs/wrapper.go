package otelojs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// flusher is implemented by tracer providers that can export buffered
// spans on demand, such as the SDK provider.
type flusher interface {
	ForceFlush(ctx context.Context) error
}

// globalFlusher flushes the provider registered globally at the time of
// the flush. Providers that cannot flush, like the default no-op one, are
// skipped.
type globalFlusher struct{}

func (globalFlusher) ForceFlush(ctx context.Context) error {
	if fl, ok := otel.GetTracerProvider().(flusher); ok {
		return fl.ForceFlush(ctx)
	}
	return nil
}

// wrapper turns one hook point into a span.
type wrapper struct {
	spec         HookSpec
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator
	flusher      flusher
	flushTimeout time.Duration
	base         []attribute.KeyValue
	logger       *zap.Logger
}

// intercept implements [ojs.Interceptor]. The span is ended on every path;
// errors and panics from next are recorded and passed on unchanged.
func (w *wrapper) intercept(ctx context.Context, call ojs.Call, next ojs.CallFunc) (result any, err error) {
	in := resolve(call, w.spec.Locators)

	if w.spec.Callback != "" && in.job.Callback(w.spec.Callback) == "" {
		return nil, nil
	}

	parent := ctx
	if w.spec.Propagation == PropagateExtract {
		parent = Extract(ctx, w.propagator, in.job)
	}

	var target any
	if in.queue != nil {
		target = in.queue.Name
	}

	attrs := make([]attribute.KeyValue, 0, len(w.base)+8)
	attrs = append(attrs, w.base...)
	attrs = append(attrs,
		MessagingOperationTypeKey.String(w.spec.OperationType),
		MessagingOperationNameKey.String(w.spec.OperationName),
	)
	attrs = append(attrs, extractAttributes(w.spec.Kind, in)...)

	spanCtx, span := w.tracer.Start(parent, spanName(w.spec.OperationName, target),
		trace.WithSpanKind(w.spec.Kind),
		trace.WithAttributes(attrs...),
	)

	if w.spec.Propagation == PropagateInject {
		Inject(spanCtx, w.propagator, in.job)
	}

	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok {
				perr = fmt.Errorf("panic: %v", r)
			}
			span.RecordError(perr, trace.WithStackTrace(true))
			span.SetStatus(codes.Error, perr.Error())
			w.end(ctx, span)
			panic(r)
		}
		w.end(ctx, span)
	}()

	result, err = next(spanCtx, call)
	if err != nil {
		span.RecordError(err, trace.WithStackTrace(true))
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// end ends span and, for flushing hooks, exports it right away. A failed
// flush is logged and never surfaces to the caller.
func (w *wrapper) end(ctx context.Context, span trace.Span) {
	span.End()
	if !w.spec.ForceFlush || w.flusher == nil {
		return
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.flushTimeout)
	defer cancel()
	if err := w.flusher.ForceFlush(fctx); err != nil {
		w.logger.Warn("force flush failed",
			zap.String("hook", string(w.spec.Point)),
			zap.Error(err),
		)
	}
}
