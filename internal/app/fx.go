package app

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/openjobspec/ojs-otel-go/internal/config"
	"github.com/openjobspec/ojs-otel-go/otelojs"
	"github.com/openjobspec/ojs-otel-go/tracer"
)

// Options returns the fx options shared by the commands: configuration,
// logging, tracing, instrumentation, broker and metrics.
func Options(cfg *config.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger, cfg.Tracer),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		tracer.FXModule,
		otelojs.FXModule,
		fx.Provide(ProvideBroker, ProvideMetrics),
	)
}
