package ojs

import (
	"context"
	"fmt"
	"time"
)

// Queue is a named queue bound to a broker. Producers enqueue and schedule
// jobs through it, and workers pass it to the hooks that report on a job.
type Queue struct {
	Name string

	broker Broker
	hooks  *HookTable
}

// NewQueue returns a queue named name on broker. A nil hooks table means
// [DefaultHooks].
func NewQueue(name string, broker Broker, hooks *HookTable) (*Queue, error) {
	if broker == nil {
		return nil, ErrNoBroker
	}
	if err := validateQueue(name); err != nil {
		return nil, err
	}
	if hooks == nil {
		hooks = DefaultHooks
	}
	return &Queue{Name: name, broker: broker, hooks: hooks}, nil
}

// Enqueue builds a job and hands it to the broker. Jobs with a delay or a
// scheduled time go through [Queue.ScheduleJob], all others through
// [Queue.EnqueueJob].
//
// Example:
//
//	job, err := queue.Enqueue(ctx, "email.send",
//	    ojs.Args{"to": "user@example.com"},
//	    ojs.WithDelay(time.Minute),
//	)
func (q *Queue) Enqueue(ctx context.Context, jobType string, args Args, opts ...EnqueueOption) (*Job, error) {
	if err := validateJobType(jobType); err != nil {
		return nil, err
	}
	cfg := resolveEnqueueConfig(opts)
	if err := cfg.validateCallbacks(); err != nil {
		return nil, err
	}
	job := cfg.newJob(jobType, args, q.Name)

	if cfg.delayUntil != nil {
		if err := q.ScheduleJob(ctx, job, *cfg.delayUntil); err != nil {
			return nil, err
		}
		return job, nil
	}
	if err := q.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueJob pushes an already built job onto the queue.
func (q *Queue) EnqueueJob(ctx context.Context, job *Job) error {
	call := Call{Receiver: q, Args: []any{job}}
	_, err := q.hooks.Invoke(ctx, HookEnqueueJob, call, func(ctx context.Context, _ Call) (any, error) {
		job.Queue = q.Name
		if err := q.broker.Push(ctx, job); err != nil {
			return nil, fmt.Errorf("ojs: enqueue %s on %s: %w", job.Type, q.Name, err)
		}
		return job, nil
	})
	return err
}

// ScheduleJob stores job so that it becomes available on the queue at the
// given time.
func (q *Queue) ScheduleJob(ctx context.Context, job *Job, at time.Time) error {
	call := Call{Receiver: q, Args: []any{job, at}}
	_, err := q.hooks.Invoke(ctx, HookScheduleJob, call, func(ctx context.Context, _ Call) (any, error) {
		job.Queue = q.Name
		scheduled := at
		job.ScheduledAt = &scheduled
		if err := q.broker.Schedule(ctx, job, at); err != nil {
			return nil, fmt.Errorf("ojs: schedule %s on %s: %w", job.Type, q.Name, err)
		}
		return job, nil
	})
	return err
}

// String returns the queue name.
func (q *Queue) String() string {
	return q.Name
}
