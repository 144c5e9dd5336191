package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestNewProviderNoExport(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(Config{ServiceName: "ojs-worker", AppEnv: "test"},
		sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	attrs := spans[0].Resource.Attributes()
	assert.Contains(t, attrs, semconv.ServiceName("ojs-worker"))
	assert.Contains(t, attrs, semconv.DeploymentEnvironment("test"))
}

func TestNewProviderWithExport(t *testing.T) {
	// The OTLP HTTP exporter connects lazily, so no collector is needed here.
	p, err := NewProvider(Config{
		ServiceName:  "ojs-producer",
		EnableExport: true,
		Endpoint:     "localhost:4318",
		Insecure:     true,
	})
	require.NoError(t, err)
	assert.NotNil(t, p.TracerProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestNewProviderRejectsUnknownPropagator(t *testing.T) {
	_, err := NewProvider(Config{Propagators: []string{"b3"}})
	assert.ErrorContains(t, err, `unknown propagator "b3"`)
}

func TestPropagators(t *testing.T) {
	tests := []struct {
		names  []string
		fields []string
	}{
		{nil, []string{"traceparent", "tracestate", "baggage"}},
		{[]string{"tracecontext"}, []string{"traceparent", "tracestate"}},
		{[]string{"Jaeger"}, []string{"uber-trace-id"}},
		{[]string{"tracecontext", " jaeger "}, []string{"traceparent", "tracestate", "uber-trace-id"}},
	}

	for _, tt := range tests {
		p, err := Propagators(tt.names...)
		require.NoError(t, err)
		assert.ElementsMatch(t, tt.fields, p.Fields(), "names %v", tt.names)
	}
}

func TestJaegerPropagatorRoundTrip(t *testing.T) {
	p, err := Propagators("jaeger")
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	carrier := propagation.MapCarrier{}
	p.Inject(trace.ContextWithSpanContext(context.Background(), sc), carrier)
	require.Contains(t, carrier, "uber-trace-id")

	got := trace.SpanContextFromContext(p.Extract(context.Background(), carrier))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestFXModule(t *testing.T) {
	var (
		tp   trace.TracerProvider
		prop propagation.TextMapPropagator
	)
	app := fxtest.New(t,
		fx.Supply(Config{ServiceName: "fx-test", Propagators: []string{"tracecontext"}}),
		FXModule,
		fx.Populate(&tp, &prop),
	)
	app.RequireStart()
	require.NotNil(t, tp)
	assert.ElementsMatch(t, []string{"traceparent", "tracestate"}, prop.Fields())
	app.RequireStop()
}
