package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
	"github.com/openjobspec/ojs-otel-go/internal/config"
)

// Producer enqueues a random task on a queue at a fixed interval.
type Producer struct {
	client   *ojs.Client
	queue    string
	interval time.Duration
	count    int
	logger   *zap.Logger
}

// NewProducer returns the producer described by cfg.Producer.
func NewProducer(cfg *config.Config, broker ojs.Broker, logger *zap.Logger) (*Producer, error) {
	client, err := ojs.NewClient(broker)
	if err != nil {
		return nil, err
	}
	return &Producer{
		client:   client,
		queue:    cfg.Producer.Queue,
		interval: cfg.Producer.Interval,
		count:    cfg.Producer.Count,
		logger:   logger.Named("producer"),
	}, nil
}

// Run enqueues jobs until ctx is done or the configured count is reached.
// A zero count never stops.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for sent := 0; p.count == 0 || sent < p.count; sent++ {
		args, err := ojs.ArgsOf(TaskArgs{Seq: sent + 1})
		if err != nil {
			return err
		}
		job, err := p.client.Enqueue(ctx, TaskRandom, args,
			ojs.WithQueue(p.queue),
			ojs.WithOnFailure(CallbackReportFailure),
		)
		if err != nil {
			return err
		}
		p.logger.Info("job enqueued",
			zap.String("job.id", job.ID),
			zap.String("job.queue", job.Queue),
		)

		if p.count != 0 && sent+1 == p.count {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// RunProducer runs p with the application. The application shuts down once
// p has enqueued all its jobs or failed.
func RunProducer(lc fx.Lifecycle, sd fx.Shutdowner, p *Producer, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				code := 0
				if err := p.Run(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logger.Error("producer failed", zap.Error(err))
					code = 1
				}
				_ = sd.Shutdown(fx.ExitCode(code))
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
