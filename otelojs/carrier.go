package otelojs

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// MetaCarrier adapts a job's Meta map to a propagation.TextMapCarrier.
// Only string values are visible to Get.
type MetaCarrier map[string]any

var _ propagation.TextMapCarrier = MetaCarrier(nil)

// Get returns the string stored at key, or "".
func (c MetaCarrier) Get(key string) string {
	s, _ := c[key].(string)
	return s
}

// Set stores value at key, replacing any previous value.
func (c MetaCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the keys that hold string values.
func (c MetaCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k, v := range c {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Inject writes the span context of ctx into job.Meta, creating Meta when
// it is nil.
func Inject(ctx context.Context, prop propagation.TextMapPropagator, job *ojs.Job) {
	if job == nil {
		return
	}
	if job.Meta == nil {
		job.Meta = make(map[string]any)
	}
	prop.Inject(ctx, MetaCarrier(job.Meta))
}

// Extract returns ctx with the span context stored in job.Meta as the
// remote parent. Any span already in ctx is dropped, so a job without a
// valid trace context yields a context whose next span is a root.
func Extract(ctx context.Context, prop propagation.TextMapPropagator, job *ojs.Job) context.Context {
	ctx = trace.ContextWithSpanContext(ctx, trace.SpanContext{})
	if job == nil || len(job.Meta) == 0 {
		return ctx
	}
	return prop.Extract(ctx, MetaCarrier(job.Meta))
}
