// Package lmstfybroker implements [ojs.Broker] on an lmstfy task queue.
//
// Jobs are published as their encoded envelope, meta included, so trace
// context survives the trip through lmstfy. lmstfy hands out its own job
// IDs; the broker remembers the lmstfy ID of every fetched job until it is
// acknowledged. Retries are republished with a delay and the failed
// delivery is acknowledged.
package lmstfybroker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bitleak/lmstfy/client"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Client is the part of the lmstfy client the broker uses.
type Client interface {
	Publish(queue string, data []byte, ttlSecond uint32, tries uint16, delaySecond uint32) (string, error)
	Consume(queue string, ttrSecond, timeoutSecond uint32) (*client.Job, error)
	Ack(queue, jobID string) error
}

var (
	_ Client     = lmstfyClient{}
	_ ojs.Broker = (*Broker)(nil)
)

// lmstfyClient adapts *client.LmstfyClient, whose Ack returns a typed
// *client.APIError, to [Client].
type lmstfyClient struct {
	cli *client.LmstfyClient
}

func (c lmstfyClient) Publish(queue string, data []byte, ttlSecond uint32, tries uint16, delaySecond uint32) (string, error) {
	return c.cli.Publish(queue, data, ttlSecond, tries, delaySecond)
}

func (c lmstfyClient) Consume(queue string, ttrSecond, timeoutSecond uint32) (*client.Job, error) {
	return c.cli.Consume(queue, ttrSecond, timeoutSecond)
}

func (c lmstfyClient) Ack(queue, jobID string) error {
	if e := c.cli.Ack(queue, jobID); e != nil {
		return e
	}
	return nil
}

// Option configures a [Broker].
type Option func(*Broker)

// WithTTR sets how long lmstfy waits for an acknowledgement before it
// delivers a job again. Default: 60s.
func WithTTR(d time.Duration) Option {
	return func(b *Broker) { b.ttr = seconds(d) }
}

// WithTTL sets how long a published job lives. Zero means forever, the
// default.
func WithTTL(d time.Duration) Option {
	return func(b *Broker) { b.ttl = seconds(d) }
}

// WithTries sets how many times lmstfy itself delivers an unacknowledged
// job. Default: 1.
func WithTries(n uint16) Option {
	return func(b *Broker) { b.tries = n }
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithClock sets the time source used to turn schedule times into delays.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// Broker is an lmstfy-backed [ojs.Broker].
type Broker struct {
	cli    Client
	ttr    uint32
	ttl    uint32
	tries  uint16
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]delivery // ojs job ID -> lmstfy delivery
}

type delivery struct {
	queue string
	id    string
}

// New returns a broker that talks to lmstfy through cli.
func New(cli Client, opts ...Option) *Broker {
	b := &Broker{
		cli:      cli,
		ttr:      60,
		tries:    1,
		logger:   zap.NewNop(),
		now:      time.Now,
		inflight: make(map[string]delivery),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect returns a broker for the lmstfy namespace at host:port.
func Connect(host string, port int, namespace, token string, opts ...Option) *Broker {
	return New(lmstfyClient{cli: client.NewLmstfyClient(host, port, namespace, token)}, opts...)
}

// Push implements [ojs.Broker].
func (b *Broker) Push(ctx context.Context, job *ojs.Job) error {
	const op = errors.Op("lmstfybroker_push")

	now := b.now().UTC()
	job.State = ojs.JobStateAvailable
	job.EnqueuedAt = &now
	if err := b.publish(ctx, job, 0); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Schedule implements [ojs.Broker]. lmstfy delays have a resolution of one
// second; at is rounded up.
func (b *Broker) Schedule(ctx context.Context, job *ojs.Job, at time.Time) error {
	const op = errors.Op("lmstfybroker_schedule")

	job.State = ojs.JobStateScheduled
	scheduled := at.UTC()
	job.ScheduledAt = &scheduled
	if err := b.publish(ctx, job, at.Sub(b.now())); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (b *Broker) publish(ctx context.Context, job *ojs.Job, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	id, err := b.cli.Publish(job.Queue, data, b.ttl, b.tries, seconds(delay))
	if err != nil {
		return err
	}
	b.logger.Debug("job published",
		zap.String("job.id", job.ID),
		zap.String("job.queue", job.Queue),
		zap.String("lmstfy.job_id", id),
		zap.Duration("delay", delay),
	)
	return nil
}

// Fetch implements [ojs.Broker]. It never blocks waiting for jobs: each
// queue is polled once per requested job until it comes back empty.
func (b *Broker) Fetch(ctx context.Context, queues []string, count int, workerID string) ([]*ojs.Job, error) {
	const op = errors.Op("lmstfybroker_fetch")

	jobs := []*ojs.Job{}
	for _, q := range queues {
		for len(jobs) < count {
			if err := ctx.Err(); err != nil {
				return jobs, errors.E(op, err)
			}
			lj, err := b.cli.Consume(q, b.ttr, 0)
			if err != nil {
				return jobs, errors.E(op, err)
			}
			if lj == nil {
				break
			}

			var job ojs.Job
			if err := json.Unmarshal(lj.Data, &job); err != nil {
				b.logger.Error("dropping undecodable job",
					zap.String("lmstfy.job_id", lj.ID),
					zap.String("job.queue", q),
					zap.Error(err),
				)
				if err := b.cli.Ack(q, lj.ID); err != nil {
					return jobs, errors.E(op, err)
				}
				continue
			}
			if job.Queue == "" {
				job.Queue = q
			}
			job.Attempt++
			job.State = ojs.JobStateActive

			b.mu.Lock()
			b.inflight[job.ID] = delivery{queue: q, id: lj.ID}
			b.mu.Unlock()
			jobs = append(jobs, &job)
		}
	}

	if len(jobs) > 0 {
		b.logger.Debug("jobs fetched", zap.Int("count", len(jobs)), zap.String("worker.id", workerID))
	}
	return jobs, nil
}

// Ack implements [ojs.Broker].
func (b *Broker) Ack(_ context.Context, job *ojs.Job, _ map[string]any) error {
	const op = errors.Op("lmstfybroker_ack")

	d, err := b.take(job.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.cli.Ack(d.queue, d.id); err != nil {
		return errors.E(op, err)
	}
	job.State = ojs.JobStateCompleted
	return nil
}

// Nack implements [ojs.Broker]. A retry is published before the failed
// delivery is acknowledged, so a crash in between duplicates the job
// rather than losing it.
func (b *Broker) Nack(ctx context.Context, job *ojs.Job, jobErr *ojs.JobError) error {
	const op = errors.Op("lmstfybroker_nack")

	d, err := b.take(job.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	job.Error = jobErr

	if ojs.ShouldRetry(job, jobErr) {
		job.State = ojs.JobStateRetryable
		if err := b.publish(ctx, job, ojs.RetryDelay(job)); err != nil {
			b.restore(job.ID, d)
			return errors.E(op, err)
		}
	} else {
		job.State = ojs.JobStateDiscarded
		b.logger.Info("job discarded",
			zap.String("job.id", job.ID),
			zap.Int("attempt", job.Attempt),
		)
	}

	if err := b.cli.Ack(d.queue, d.id); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (b *Broker) take(id string) (delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.inflight[id]
	if !ok {
		return delivery{}, fmt.Errorf("job %s is not in flight: %w", id, ojs.ErrNotFound)
	}
	delete(b.inflight, id)
	return d, nil
}

func (b *Broker) restore(id string, d delivery) {
	b.mu.Lock()
	b.inflight[id] = d
	b.mu.Unlock()
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	s := math.Ceil(d.Seconds())
	if s > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(s)
}
