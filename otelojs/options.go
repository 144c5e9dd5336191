package otelojs

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

const (
	instrumentationName = "github.com/openjobspec/ojs-otel-go/otelojs"

	// Version is the instrumentation version reported with every tracer and meter.
	Version = "0.1.0"

	defaultFlushTimeout = 5 * time.Second
)

// Option configures an [Instrumentor] or the [Metrics] middleware.
type Option func(*config)

type config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	hooks          *ojs.HookTable
	logger         *zap.Logger
	flushTimeout   time.Duration
}

// WithTracerProvider sets the TracerProvider. Defaults to the global
// provider; spans follow it even when it is registered after
// [Instrumentor.Instrument] is called.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithMeterProvider sets the MeterProvider used by [Metrics]. Defaults to
// the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meterProvider = mp }
}

// WithPropagator sets the propagator that writes and reads trace context in
// job meta. Default: W3C trace context.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *config) { c.propagator = p }
}

// WithHookTable sets the hook table to instrument. Default: [ojs.DefaultHooks].
func WithHookTable(hooks *ojs.HookTable) Option {
	return func(c *config) { c.hooks = hooks }
}

// WithLogger sets the logger for install events and flush failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithFlushTimeout bounds the forced flush that follows every consumed job.
// Default: 5s.
func WithFlushTimeout(d time.Duration) Option {
	return func(c *config) { c.flushTimeout = d }
}

func newConfig(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.propagator == nil {
		cfg.propagator = propagation.TraceContext{}
	}
	if cfg.hooks == nil {
		cfg.hooks = ojs.DefaultHooks
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.flushTimeout <= 0 {
		cfg.flushTimeout = defaultFlushTimeout
	}
	return cfg
}

func (c config) tracer() trace.Tracer {
	tp := c.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(Version))
}

// flusher reports how consumed job spans are flushed. Without an explicit
// provider the global one is looked up on every flush, because it is often
// registered after the instrumentation is installed.
func (c config) flusher() (flusher, bool) {
	if c.tracerProvider == nil {
		return globalFlusher{}, true
	}
	fl, ok := c.tracerProvider.(flusher)
	return fl, ok
}

func (c config) meter() metric.Meter {
	mp := c.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return mp.Meter(instrumentationName, metric.WithInstrumentationVersion(Version))
}
