// Package app wires the configured broker, tasks and metrics endpoint into
// the producer and worker commands.
package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
	"github.com/openjobspec/ojs-otel-go/internal/config"
	"github.com/openjobspec/ojs-otel-go/lmstfybroker"
	"github.com/openjobspec/ojs-otel-go/ojstesting"
	"github.com/openjobspec/ojs-otel-go/redisbroker"
)

// NewBroker builds the broker selected by cfg.Broker.Driver. The returned
// close func releases its connections.
func NewBroker(cfg *config.Config, logger *zap.Logger) (ojs.Broker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Broker.Driver {
	case config.DriverMemory:
		return ojstesting.NewBroker(), noop, nil
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b := redisbroker.New(client,
			redisbroker.WithPrefix(cfg.Redis.Prefix),
			redisbroker.WithRetention(cfg.Redis.Retention),
			redisbroker.WithLogger(logger.Named("redisbroker")),
		)
		return b, client.Close, nil
	case config.DriverLmstfy:
		b := lmstfybroker.Connect(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token,
			lmstfybroker.WithTTR(cfg.Lmstfy.TTR),
			lmstfybroker.WithTries(uint16(cfg.Lmstfy.Tries)),
			lmstfybroker.WithLogger(logger.Named("lmstfybroker")),
		)
		return b, noop, nil
	case config.DriverHTTP:
		var opts []ojs.HTTPOption
		if cfg.HTTP.AuthToken != "" {
			opts = append(opts, ojs.WithAuthToken(cfg.HTTP.AuthToken))
		}
		return ojs.NewHTTPBroker(cfg.HTTP.URL, opts...), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ProvideBroker is the fx constructor of the configured broker. Brokers that
// can be pinged are checked on start; connections are closed on stop.
func ProvideBroker(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (ojs.Broker, error) {
	b, closeFn, err := NewBroker(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p, ok := b.(pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return closeFn()
		},
	})
	logger.Info("broker configured", zap.String("driver", cfg.Broker.Driver))
	return b, nil
}
