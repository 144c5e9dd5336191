package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Job types registered by [Tasks].
const (
	TaskNormal = "tasks.task_normal"
	TaskDelay  = "tasks.task_delay"
	TaskError  = "tasks.task_error"
	// TaskRandom runs one of the three tasks above, picked at random.
	TaskRandom = "tasks.task"

	// CallbackReportFailure logs the cause of a failed job.
	CallbackReportFailure = "tasks.report_failure"
)

// ErrUnexpected is returned by the error task.
var ErrUnexpected = errors.New("unexpected error")

// TaskArgs are the args of every demo task. Seq numbers the jobs of one
// producer run; jobs enqueued elsewhere may leave it zero.
type TaskArgs struct {
	Seq int `json:"seq"`
}

// Validate implements [ojs.ArgsValidator].
func (a TaskArgs) Validate() error {
	if a.Seq < 0 {
		return fmt.Errorf("seq %d is negative", a.Seq)
	}
	return nil
}

// Tasks are the demo job handlers.
type Tasks struct {
	logger *zap.Logger
	delay  time.Duration
	pick   func() string
}

// NewTasks returns the demo tasks. The delay task sleeps for delay.
func NewTasks(logger *zap.Logger, delay time.Duration) *Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tasks{
		logger: logger,
		delay:  delay,
		pick: func() string {
			return [...]string{TaskNormal, TaskDelay, TaskError}[rand.IntN(3)]
		},
	}
}

// Register installs every task and callback on w.
func (t *Tasks) Register(w *ojs.Worker) {
	ojs.RegisterTyped(w, TaskNormal, t.normal)
	ojs.RegisterTyped(w, TaskDelay, t.delayed)
	ojs.RegisterTyped(w, TaskError, t.fail)
	ojs.RegisterTyped(w, TaskRandom, t.random)
	w.RegisterCallback(CallbackReportFailure, t.reportFailure)
}

func (t *Tasks) normal(ctx ojs.JobContext, args TaskArgs) error {
	t.logger.Info("hello world", zap.String("job.id", ctx.Job.ID), zap.Int("seq", args.Seq))
	return nil
}

func (t *Tasks) delayed(ctx ojs.JobContext, args TaskArgs) error {
	select {
	case <-time.After(t.delay):
	case <-ctx.Context().Done():
		return ctx.Context().Err()
	}
	return t.normal(ctx, args)
}

func (t *Tasks) fail(ojs.JobContext, TaskArgs) error {
	return ErrUnexpected
}

func (t *Tasks) random(ctx ojs.JobContext, args TaskArgs) error {
	switch t.pick() {
	case TaskDelay:
		return t.delayed(ctx, args)
	case TaskError:
		return t.fail(ctx, args)
	default:
		return t.normal(ctx, args)
	}
}

func (t *Tasks) reportFailure(_ context.Context, job *ojs.Job, cause error) error {
	t.logger.Warn("job failed",
		zap.String("job.id", job.ID),
		zap.String("job.type", job.Type),
		zap.Int("job.attempt", job.Attempt),
		zap.Error(cause),
	)
	return nil
}
