package tracer

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// FXModule provides a *Provider built from a Config, exposes it as a
// trace.TracerProvider and propagation.TextMapPropagator, and shuts it down
// when the application stops.
//
//	app := fx.New(
//	    fx.Supply(cfg.Tracer),
//	    tracer.FXModule,
//	    otelojs.FXModule,
//	)
var FXModule = fx.Module("tracer",
	fx.Provide(
		NewProvider,
		func(p *Provider) trace.TracerProvider { return p.TracerProvider() },
		func(p *Provider) propagation.TextMapPropagator { return p.Propagator() },
	),
	fx.Invoke(RegisterProviderLifecycle),
)

// LifecycleParams are the dependencies of [RegisterProviderLifecycle].
type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Provider  *Provider
	Logger    *zap.Logger `optional:"true"`
}

// RegisterProviderLifecycle shuts the provider down on stop, flushing any
// pending spans.
func RegisterProviderLifecycle(p LifecycleParams) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down tracer provider")
			return p.Provider.Shutdown(ctx)
		},
	})
}
