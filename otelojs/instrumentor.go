package otelojs

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Instrumentor installs span-producing interceptors on every hook point of
// an [ojs.HookTable] and removes them again.
//
// Example:
//
//	inst := otelojs.New(otelojs.WithTracerProvider(tp))
//	if err := inst.Instrument(); err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Uninstrument()
type Instrumentor struct {
	cfg config

	mu        sync.Mutex
	installed []ojs.HookPoint
}

// New returns an uninstrumented Instrumentor.
func New(opts ...Option) *Instrumentor {
	return &Instrumentor{cfg: newConfig(opts)}
}

// Instrument wraps every hook point listed by [Registry]. It is a no-op
// when already instrumented. If any hook point cannot be wrapped, for
// example because another interceptor is installed there, the hook points
// wrapped so far are restored and the error is returned.
func (i *Instrumentor) Instrument() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.installed != nil {
		return nil
	}

	tracer := i.cfg.tracer()
	fl, ok := i.cfg.flusher()
	if !ok {
		i.cfg.logger.Warn("tracer provider cannot force flush, consumed job spans are exported on its own schedule")
	}
	base := baseAttributes()

	installed := make([]ojs.HookPoint, 0, len(registry))
	for _, spec := range Registry() {
		w := &wrapper{
			spec:         spec,
			tracer:       tracer,
			propagator:   i.cfg.propagator,
			flusher:      fl,
			flushTimeout: i.cfg.flushTimeout,
			base:         base,
			logger:       i.cfg.logger,
		}
		if err := i.cfg.hooks.Wrap(spec.Point, w.intercept); err != nil {
			i.restore(installed)
			return fmt.Errorf("otelojs: instrument %s: %w", spec.Point, err)
		}
		installed = append(installed, spec.Point)
	}

	i.installed = installed
	i.cfg.logger.Debug("job queue instrumented", zap.Int("hooks", len(installed)))
	return nil
}

// Uninstrument restores every wrapped hook point in reverse installation
// order. It is a no-op when not instrumented.
func (i *Instrumentor) Uninstrument() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.installed == nil {
		return
	}
	i.restore(i.installed)
	i.installed = nil
	i.cfg.logger.Debug("job queue uninstrumented")
}

// Instrumented reports whether the hook points are currently wrapped.
func (i *Instrumentor) Instrumented() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installed != nil
}

func (i *Instrumentor) restore(points []ojs.HookPoint) {
	for n := len(points) - 1; n >= 0; n-- {
		if !i.cfg.hooks.Unwrap(points[n]) {
			i.cfg.logger.Warn("hook point was already unwrapped", zap.String("hook", string(points[n])))
		}
	}
}
