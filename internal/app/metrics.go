package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/openjobspec/ojs-otel-go/internal/config"
	"github.com/openjobspec/ojs-otel-go/middleware"
)

// Metrics holds the Prometheus registry of a process and the job recorder
// registered in it.
type Metrics struct {
	Registry *prometheus.Registry
	Recorder *middleware.PrometheusRecorder
}

// NewMetrics registers the job recorder and the Go and process collectors
// under a service label.
func NewMetrics(service string) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg)

	rec := middleware.NewPrometheusRecorder()
	for _, c := range []prometheus.Collector{
		rec,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := wrapped.Register(c); err != nil {
			return nil, err
		}
	}
	return &Metrics{Registry: reg, Recorder: rec}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ProvideMetrics is the fx constructor of [Metrics]. When metrics.addr is
// set, the registry is served on it for the lifetime of the application.
func ProvideMetrics(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*Metrics, error) {
	m, err := NewMetrics(cfg.App.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Addr == "" {
		return m, nil
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return m, nil
}
