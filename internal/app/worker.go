package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
	"github.com/openjobspec/ojs-otel-go/internal/config"
	"github.com/openjobspec/ojs-otel-go/middleware"
)

const taskDelay = 3 * time.Second

// NewWorker builds the worker of the configured queues with the demo tasks
// and the recovery, logging and metrics middleware.
func NewWorker(cfg *config.Config, broker ojs.Broker, m *Metrics, logger *zap.Logger) (*ojs.Worker, error) {
	w, err := ojs.NewWorker(broker,
		ojs.WithName(cfg.Worker.Name),
		ojs.WithQueues(cfg.Worker.Queues...),
		ojs.WithConcurrency(cfg.Worker.Concurrency),
		ojs.WithGracePeriod(cfg.Worker.GracePeriod),
		ojs.WithPollInterval(cfg.Worker.PollInterval),
		ojs.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval),
		ojs.WithLogger(logger.Named("worker")),
	)
	if err != nil {
		return nil, err
	}

	w.UseNamed("recovery", middleware.Recovery(logger))
	w.UseNamed("logging", middleware.Logging(logger))
	w.UseNamed("prometheus", middleware.Metrics(m.Recorder))

	NewTasks(logger.Named("tasks"), taskDelay).Register(w)
	return w, nil
}

// RunWorker starts w with the application and stops it, waiting for active
// jobs, when the application stops. A worker that exits on its own shuts
// the application down.
func RunWorker(lc fx.Lifecycle, sd fx.Shutdowner, w *ojs.Worker, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("worker failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
