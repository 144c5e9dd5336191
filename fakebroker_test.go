package ojs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeBroker is a minimal in-memory Broker for tests inside the package.
type fakeBroker struct {
	mu sync.Mutex

	pending   []*Job
	scheduled map[string]time.Time
	acked     map[string]map[string]any
	nacked    map[string]*JobError

	pushErr  error
	fetchErr error
	// reserveErr is returned once by Fetch together with the jobs it
	// reserved.
	reserveErr error
	ackErr   error
	nackErr  error

	heartbeats []Heartbeat
	state      WorkerState
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		scheduled: make(map[string]time.Time),
		acked:     make(map[string]map[string]any),
		nacked:    make(map[string]*JobError),
	}
}

func (b *fakeBroker) Push(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pushErr != nil {
		return b.pushErr
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.State = JobStateAvailable
	b.pending = append(b.pending, job)
	return nil
}

func (b *fakeBroker) Schedule(_ context.Context, job *Job, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pushErr != nil {
		return b.pushErr
	}
	job.State = JobStateScheduled
	b.scheduled[job.ID] = at
	return nil
}

func (b *fakeBroker) Fetch(_ context.Context, queues []string, count int, workerID string) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	var out, rest []*Job
	for _, job := range b.pending {
		if len(out) < count && contains(queues, job.Queue) {
			job.Attempt++
			job.State = JobStateActive
			out = append(out, job)
			continue
		}
		rest = append(rest, job)
	}
	b.pending = rest
	if err := b.reserveErr; err != nil {
		b.reserveErr = nil
		return out, err
	}
	return out, nil
}

func (b *fakeBroker) Ack(_ context.Context, job *Job, result map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ackErr != nil {
		return b.ackErr
	}
	b.acked[job.ID] = result
	return nil
}

func (b *fakeBroker) Nack(_ context.Context, job *Job, jobErr *JobError) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nackErr != nil {
		return b.nackErr
	}
	if jobErr == nil {
		return fmt.Errorf("nack %s without error", job.ID)
	}
	b.nacked[job.ID] = jobErr
	return nil
}

func (b *fakeBroker) Heartbeat(_ context.Context, hb Heartbeat) (WorkerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats = append(b.heartbeats, hb)
	return b.state, nil
}

func (b *fakeBroker) ackedResult(id string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.acked[id]
	return r, ok
}

func (b *fakeBroker) nackedError(id string) *JobError {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacked[id]
}

func (b *fakeBroker) pendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
