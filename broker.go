package ojs

import (
	"context"
	"time"
)

// Broker persists jobs between producers and workers.
//
// Implementations must store Job.Meta verbatim: workers read the producer's
// trace context back from it.
type Broker interface {
	// Push makes job available on job.Queue immediately. Implementations
	// assign job.ID when empty and update job.State.
	Push(ctx context.Context, job *Job) error

	// Schedule stores job so that it becomes available at the given time.
	Schedule(ctx context.Context, job *Job, at time.Time) error

	// Fetch reserves up to count available jobs from the given queues, in
	// queue priority order. It returns an empty slice when none are ready.
	// Jobs returned together with an error are reserved all the same and
	// must be acked or nacked by the caller.
	Fetch(ctx context.Context, queues []string, count int, workerID string) ([]*Job, error)

	// Ack marks a reserved job completed with an optional result.
	Ack(ctx context.Context, job *Job, result map[string]any) error

	// Nack reports a failed attempt. The broker decides whether the job is
	// retried or discarded.
	Nack(ctx context.Context, job *Job, jobErr *JobError) error
}

// Heartbeat is the liveness report a worker sends to its broker.
type Heartbeat struct {
	WorkerID     string      `json:"worker_id"`
	State        WorkerState `json:"state"`
	ActiveJobs   int         `json:"active_jobs"`
	ActiveJobIDs []string    `json:"active_job_ids"`
}

// Heartbeater is implemented by brokers that track worker liveness. The
// returned state, when non-empty, is a state the broker asks the worker to
// move to.
type Heartbeater interface {
	Heartbeat(ctx context.Context, hb Heartbeat) (WorkerState, error)
}
