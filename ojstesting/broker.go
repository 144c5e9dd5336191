package ojstesting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Broker is an in-memory [ojs.Broker]. Jobs are stored encoded, the way a
// real broker persists them, so anything a producer writes into Job.Meta
// reaches the worker only through serialization.
type Broker struct {
	mu  sync.Mutex
	now func() time.Time
	seq int

	records   map[string]*record
	available map[string][]string // queue -> job IDs in FIFO order
	scheduled []string
	history   []ojs.Job // snapshot of every job as it was enqueued

	heartbeats   []ojs.Heartbeat
	desiredState ojs.WorkerState
	failFetch    error
}

type record struct {
	data  []byte
	state ojs.JobState
	at    time.Time // availability time of scheduled jobs
	err   *ojs.JobError
}

var (
	_ ojs.Broker      = (*Broker)(nil)
	_ ojs.Heartbeater = (*Broker)(nil)
)

// BrokerOption configures a [Broker].
type BrokerOption func(*Broker)

// WithClock sets the time source used to decide when scheduled jobs become
// available. Default: time.Now.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker returns an empty in-memory broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		now:       time.Now,
		records:   make(map[string]*record),
		available: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push implements [ojs.Broker].
func (b *Broker) Push(_ context.Context, job *ojs.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.assignID(job)
	job.State = ojs.JobStateAvailable
	now := b.now().UTC()
	job.EnqueuedAt = &now
	if err := b.store(job, time.Time{}); err != nil {
		return err
	}
	b.available[job.Queue] = append(b.available[job.Queue], job.ID)
	return nil
}

// Schedule implements [ojs.Broker].
func (b *Broker) Schedule(_ context.Context, job *ojs.Job, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.assignID(job)
	job.State = ojs.JobStateScheduled
	if err := b.store(job, at); err != nil {
		return err
	}
	b.scheduled = append(b.scheduled, job.ID)
	return nil
}

func (b *Broker) assignID(job *ojs.Job) {
	if job.ID != "" {
		return
	}
	b.seq++
	job.ID = fmt.Sprintf("fake-%06d", b.seq)
}

func (b *Broker) store(job *ojs.Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("ojstesting: encode job: %w", err)
	}
	b.records[job.ID] = &record{data: data, state: job.State, at: at}

	var snapshot ojs.Job
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("ojstesting: decode job: %w", err)
	}
	b.history = append(b.history, snapshot)
	return nil
}

// Fetch implements [ojs.Broker]. Due scheduled jobs are promoted first.
func (b *Broker) Fetch(_ context.Context, queues []string, count int, _ string) ([]*ojs.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failFetch != nil {
		return nil, b.failFetch
	}
	b.promote()

	jobs := []*ojs.Job{}
	for _, q := range queues {
		for len(jobs) < count && len(b.available[q]) > 0 {
			id := b.available[q][0]
			b.available[q] = b.available[q][1:]

			rec := b.records[id]
			var job ojs.Job
			if err := json.Unmarshal(rec.data, &job); err != nil {
				return nil, fmt.Errorf("ojstesting: decode job %s: %w", id, err)
			}
			job.Attempt++
			job.State = ojs.JobStateActive
			rec.state = ojs.JobStateActive
			if data, err := json.Marshal(&job); err == nil {
				rec.data = data
			}
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}

// promote moves due scheduled jobs onto their queues in due-time order.
func (b *Broker) promote() {
	now := b.now()
	sort.SliceStable(b.scheduled, func(i, j int) bool {
		return b.records[b.scheduled[i]].at.Before(b.records[b.scheduled[j]].at)
	})
	remaining := b.scheduled[:0]
	for _, id := range b.scheduled {
		rec := b.records[id]
		if rec.at.After(now) {
			remaining = append(remaining, id)
			continue
		}
		var job ojs.Job
		if err := json.Unmarshal(rec.data, &job); err != nil {
			continue
		}
		rec.state = ojs.JobStateAvailable
		b.available[job.Queue] = append(b.available[job.Queue], id)
	}
	b.scheduled = remaining
}

// Ack implements [ojs.Broker].
func (b *Broker) Ack(_ context.Context, job *ojs.Job, _ map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[job.ID]
	if !ok || rec.state != ojs.JobStateActive {
		return fmt.Errorf("ojstesting: ack %s: %w", job.ID, ojs.ErrNotFound)
	}
	rec.state = ojs.JobStateCompleted
	return b.update(rec, job)
}

// Nack implements [ojs.Broker]. Retryable failures with attempts left are
// rescheduled after the job's retry backoff; all others are discarded.
func (b *Broker) Nack(_ context.Context, job *ojs.Job, jobErr *ojs.JobError) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[job.ID]
	if !ok || rec.state != ojs.JobStateActive {
		return fmt.Errorf("ojstesting: nack %s: %w", job.ID, ojs.ErrNotFound)
	}
	rec.err = jobErr
	if ojs.ShouldRetry(job, jobErr) {
		rec.state = ojs.JobStateRetryable
		rec.at = b.now().Add(ojs.RetryDelay(job))
		b.scheduled = append(b.scheduled, job.ID)
	} else {
		rec.state = ojs.JobStateDiscarded
	}
	return b.update(rec, job)
}

func (b *Broker) update(rec *record, job *ojs.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("ojstesting: encode job: %w", err)
	}
	rec.data = data
	return nil
}

// Heartbeat implements [ojs.Heartbeater]. It returns the state set with
// [Broker.SetWorkerState].
func (b *Broker) Heartbeat(_ context.Context, hb ojs.Heartbeat) (ojs.WorkerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats = append(b.heartbeats, hb)
	return b.desiredState, nil
}

// SetWorkerState sets the state returned to workers on their next heartbeat.
func (b *Broker) SetWorkerState(s ojs.WorkerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.desiredState = s
}

// FailFetch makes every Fetch return err until it is called again with nil.
func (b *Broker) FailFetch(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFetch = err
}

// Heartbeats returns the heartbeats received so far.
func (b *Broker) Heartbeats() []ojs.Heartbeat {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ojs.Heartbeat, len(b.heartbeats))
	copy(out, b.heartbeats)
	return out
}

// Job returns the stored state of the job with the given id.
func (b *Broker) Job(id string) (*ojs.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok {
		return nil, false
	}
	var job ojs.Job
	if err := json.Unmarshal(rec.data, &job); err != nil {
		return nil, false
	}
	job.State = rec.state
	if rec.err != nil {
		job.Error = rec.err
	}
	return &job, true
}

// Enqueued returns every job as it was handed to Push or Schedule, in order.
func (b *Broker) Enqueued() []ojs.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ojs.Job, len(b.history))
	copy(out, b.history)
	return out
}

// InState returns the stored jobs currently in state, ordered by ID.
func (b *Broker) InState(state ojs.JobState) []*ojs.Job {
	b.mu.Lock()
	ids := make([]string, 0, len(b.records))
	for id, rec := range b.records {
		if rec.state == state {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	sort.Strings(ids)
	jobs := make([]*ojs.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := b.Job(id); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Len returns the number of jobs available on queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promote()
	return len(b.available[queue])
}
