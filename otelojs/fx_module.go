package otelojs

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// FXModule provides an *Instrumentor and instruments the job queue for the
// lifetime of the fx application. Every dependency is optional; missing
// ones fall back to the defaults of [New].
//
//	app := fx.New(
//	    tracer.FXModule,
//	    otelojs.FXModule,
//	)
var FXModule = fx.Module("otelojs",
	fx.Provide(NewFromParams),
	fx.Invoke(RegisterInstrumentorLifecycle),
)

// Params are the optional dependencies of [NewFromParams].
type Params struct {
	fx.In

	TracerProvider trace.TracerProvider           `optional:"true"`
	Propagator     propagation.TextMapPropagator `optional:"true"`
	Hooks          *ojs.HookTable                `optional:"true"`
	Logger         *zap.Logger                   `optional:"true"`
}

// NewFromParams builds an Instrumentor from fx-provided dependencies.
func NewFromParams(p Params) *Instrumentor {
	var opts []Option
	if p.TracerProvider != nil {
		opts = append(opts, WithTracerProvider(p.TracerProvider))
	}
	if p.Propagator != nil {
		opts = append(opts, WithPropagator(p.Propagator))
	}
	if p.Hooks != nil {
		opts = append(opts, WithHookTable(p.Hooks))
	}
	if p.Logger != nil {
		opts = append(opts, WithLogger(p.Logger))
	}
	return New(opts...)
}

// RegisterInstrumentorLifecycle instruments on start and uninstruments on stop.
func RegisterInstrumentorLifecycle(lc fx.Lifecycle, inst *Instrumentor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return inst.Instrument()
		},
		OnStop: func(context.Context) error {
			inst.Uninstrument()
			return nil
		},
	})
}
