// Package redisbroker implements [ojs.Broker] on Redis.
//
// Available jobs wait in one sorted set per queue, ordered by priority and
// then by enqueue time. Scheduled jobs and jobs waiting for a retry share a
// sorted set scored by due time and are moved onto their queue by the next
// Fetch after they fall due. Each job is a hash holding the encoded job,
// including its meta, so trace context written by a producer reaches the
// worker unchanged.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	broker := redisbroker.New(rdb, redisbroker.WithLogger(logger))
package redisbroker

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	ojs "github.com/openjobspec/ojs-otel-go"
)

const (
	defaultRetention    = 24 * time.Hour
	workerHeartbeatTTL  = time.Minute
	fieldData           = "data"
	fieldState          = "state"
	fieldQueue          = "queue"
	fieldPriority       = "priority"
	promoteBatchMaximum = 100
)

var (
	_ ojs.Broker      = (*Broker)(nil)
	_ ojs.Heartbeater = (*Broker)(nil)
)

// Option configures a [Broker].
type Option func(*Broker)

// WithPrefix sets the prefix of every key. Default: [DefaultPrefix].
func WithPrefix(prefix string) Option {
	return func(b *Broker) { b.keys = keys{prefix: prefix} }
}

// WithRetention sets how long finished jobs are kept. Zero keeps them
// forever. Default: 24h.
func WithRetention(d time.Duration) Option {
	return func(b *Broker) { b.retention = d }
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithClock sets the time source for scheduling decisions. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// Broker is a Redis-backed [ojs.Broker]. The caller owns the client.
type Broker struct {
	client    goredis.Cmdable
	keys      keys
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a broker that stores jobs through client.
func New(client goredis.Cmdable, opts ...Option) *Broker {
	b := &Broker{
		client:    client,
		keys:      keys{prefix: DefaultPrefix},
		retention: defaultRetention,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping checks the connection to Redis.
func (b *Broker) Ping(ctx context.Context) error {
	const op = errors.Op("redisbroker_ping")
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Push implements [ojs.Broker].
func (b *Broker) Push(ctx context.Context, job *ojs.Job) error {
	const op = errors.Op("redisbroker_push")

	b.assignID(job)
	now := b.now().UTC()
	job.State = ojs.JobStateAvailable
	job.EnqueuedAt = &now

	data, err := json.Marshal(job)
	if err != nil {
		return errors.E(op, err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.keys.job(job.ID), b.fields(job, data))
	pipe.ZAdd(ctx, b.keys.queue(job.Queue), goredis.Z{Score: jobScore(job.Priority, now), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.E(op, err)
	}
	b.logger.Debug("job pushed", zap.String("job.id", job.ID), zap.String("job.queue", job.Queue))
	return nil
}

// Schedule implements [ojs.Broker].
func (b *Broker) Schedule(ctx context.Context, job *ojs.Job, at time.Time) error {
	const op = errors.Op("redisbroker_schedule")

	b.assignID(job)
	job.State = ojs.JobStateScheduled
	scheduled := at.UTC()
	job.ScheduledAt = &scheduled

	data, err := json.Marshal(job)
	if err != nil {
		return errors.E(op, err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.keys.job(job.ID), b.fields(job, data))
	pipe.ZAdd(ctx, b.keys.scheduled(), goredis.Z{Score: dueScore(at), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.E(op, err)
	}
	b.logger.Debug("job scheduled",
		zap.String("job.id", job.ID),
		zap.String("job.queue", job.Queue),
		zap.Time("at", at),
	)
	return nil
}

// Fetch implements [ojs.Broker]. Due scheduled jobs are promoted first,
// then up to count jobs are popped from queues in order. On an error the
// jobs already activated are returned with it and the rest of the popped
// batch goes back on its queue.
func (b *Broker) Fetch(ctx context.Context, queues []string, count int, workerID string) ([]*ojs.Job, error) {
	const op = errors.Op("redisbroker_fetch")

	if err := b.promote(ctx); err != nil {
		return nil, errors.E(op, err)
	}

	jobs := []*ojs.Job{}
	for _, q := range queues {
		remaining := count - len(jobs)
		if remaining <= 0 {
			break
		}
		members, err := b.client.ZPopMin(ctx, b.keys.queue(q), int64(remaining)).Result()
		if err != nil {
			return jobs, errors.E(op, err)
		}
		for i, z := range members {
			id, ok := z.Member.(string)
			if !ok {
				continue
			}
			job, err := b.activate(ctx, id)
			if err != nil {
				if stderrors.Is(err, ojs.ErrNotFound) {
					b.logger.Warn("queued job has no record", zap.String("job.id", id), zap.String("job.queue", q))
					continue
				}
				b.requeue(ctx, q, members[i:])
				return jobs, errors.E(op, err)
			}
			jobs = append(jobs, job)
		}
	}

	if len(jobs) > 0 {
		b.logger.Debug("jobs fetched", zap.Int("count", len(jobs)), zap.String("worker.id", workerID))
	}
	return jobs, nil
}

// requeue puts popped but not activated members back on their queue with
// their original scores.
func (b *Broker) requeue(ctx context.Context, queue string, members []goredis.Z) {
	if len(members) == 0 {
		return
	}
	if err := b.client.ZAdd(context.WithoutCancel(ctx), b.keys.queue(queue), members...).Err(); err != nil {
		b.logger.Error("failed to requeue popped jobs",
			zap.String("job.queue", queue),
			zap.Int("count", len(members)),
			zap.Error(err),
		)
	}
}

// activate marks the job active and counts the attempt.
func (b *Broker) activate(ctx context.Context, id string) (*ojs.Job, error) {
	job, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Attempt++
	job.State = ojs.JobStateActive
	if err := b.store(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// promote moves due scheduled jobs onto their queues. A job is promoted by
// whichever fetcher removes it from the scheduled set.
func (b *Broker) promote(ctx context.Context) error {
	ids, err := b.client.ZRangeByScore(ctx, b.keys.scheduled(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(dueScore(b.now()), 'f', -1, 64),
		Count: promoteBatchMaximum,
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := b.client.ZRem(ctx, b.keys.scheduled(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		vals, err := b.client.HMGet(ctx, b.keys.job(id), fieldQueue, fieldPriority).Result()
		if err != nil {
			return err
		}
		queue, _ := vals[0].(string)
		if queue == "" {
			continue
		}
		priority := 0
		if s, ok := vals[1].(string); ok {
			priority, _ = strconv.Atoi(s)
		}

		pipe := b.client.TxPipeline()
		pipe.HSet(ctx, b.keys.job(id), fieldState, string(ojs.JobStateAvailable))
		pipe.ZAdd(ctx, b.keys.queue(queue), goredis.Z{Score: jobScore(priority, b.now()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ack implements [ojs.Broker].
func (b *Broker) Ack(ctx context.Context, job *ojs.Job, result map[string]any) error {
	const op = errors.Op("redisbroker_ack")

	if err := b.requireActive(ctx, job.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now := b.now().UTC()
	job.State = ojs.JobStateCompleted
	job.CompletedAt = &now
	if result != nil {
		job.Result = result
	}
	if err := b.store(ctx, job); err != nil {
		return errors.E(op, err)
	}
	b.expire(ctx, job.ID)
	return nil
}

// Nack implements [ojs.Broker]. Retryable failures with attempts left are
// rescheduled after the job's retry backoff; all others are discarded.
func (b *Broker) Nack(ctx context.Context, job *ojs.Job, jobErr *ojs.JobError) error {
	const op = errors.Op("redisbroker_nack")

	if err := b.requireActive(ctx, job.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	job.Error = jobErr

	if !ojs.ShouldRetry(job, jobErr) {
		job.State = ojs.JobStateDiscarded
		if err := b.store(ctx, job); err != nil {
			return errors.E(op, err)
		}
		b.expire(ctx, job.ID)
		b.logger.Info("job discarded",
			zap.String("job.id", job.ID),
			zap.Int("attempt", job.Attempt),
		)
		return nil
	}

	job.State = ojs.JobStateRetryable
	at := b.now().Add(ojs.RetryDelay(job))
	data, err := json.Marshal(job)
	if err != nil {
		return errors.E(op, err)
	}
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.keys.job(job.ID), b.fields(job, data))
	pipe.ZAdd(ctx, b.keys.scheduled(), goredis.Z{Score: dueScore(at), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.E(op, err)
	}
	b.logger.Debug("job will be retried",
		zap.String("job.id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Time("at", at),
	)
	return nil
}

// Heartbeat implements [ojs.Heartbeater]. It records the worker and returns
// the state set with [Broker.SetWorkerState], if any.
func (b *Broker) Heartbeat(ctx context.Context, hb ojs.Heartbeat) (ojs.WorkerState, error) {
	const op = errors.Op("redisbroker_heartbeat")

	key := b.keys.worker(hb.WorkerID)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(hb.State),
		"active_jobs", hb.ActiveJobs,
		"last_seen", b.now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, workerHeartbeatTTL)
	desired := pipe.Get(ctx, b.keys.workerState())
	if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, goredis.Nil) {
		return "", errors.E(op, err)
	}

	state, err := desired.Result()
	if stderrors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.E(op, err)
	}
	return ojs.WorkerState(state), nil
}

// SetWorkerState sets the state returned to every worker on its next
// heartbeat. An empty state clears it.
func (b *Broker) SetWorkerState(ctx context.Context, state ojs.WorkerState) error {
	const op = errors.Op("redisbroker_set_worker_state")
	var err error
	if state == "" {
		err = b.client.Del(ctx, b.keys.workerState()).Err()
	} else {
		err = b.client.Set(ctx, b.keys.workerState(), string(state), 0).Err()
	}
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Job returns the stored job with the given id.
func (b *Broker) Job(ctx context.Context, id string) (*ojs.Job, error) {
	const op = errors.Op("redisbroker_job")
	job, err := b.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

// Len returns the number of jobs available on queue.
func (b *Broker) Len(ctx context.Context, queue string) (int64, error) {
	const op = errors.Op("redisbroker_len")
	n, err := b.client.ZCard(ctx, b.keys.queue(queue)).Result()
	if err != nil {
		return 0, errors.E(op, err)
	}
	return n, nil
}

func (b *Broker) assignID(job *ojs.Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
}

func (b *Broker) fields(job *ojs.Job, data []byte) map[string]any {
	return map[string]any{
		fieldData:     string(data),
		fieldState:    string(job.State),
		fieldQueue:    job.Queue,
		fieldPriority: strconv.Itoa(job.Priority),
	}
}

func (b *Broker) store(ctx context.Context, job *ojs.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.client.HSet(ctx, b.keys.job(job.ID), b.fields(job, data)).Err()
}

func (b *Broker) load(ctx context.Context, id string) (*ojs.Job, error) {
	vals, err := b.client.HMGet(ctx, b.keys.job(id), fieldData, fieldState).Result()
	if err != nil {
		return nil, err
	}
	data, _ := vals[0].(string)
	if data == "" {
		return nil, fmt.Errorf("job %s: %w", id, ojs.ErrNotFound)
	}
	var job ojs.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	state, _ := vals[1].(string)
	if state != "" {
		job.State = ojs.JobState(state)
	}
	return &job, nil
}

func (b *Broker) requireActive(ctx context.Context, id string) error {
	state, err := b.client.HGet(ctx, b.keys.job(id), fieldState).Result()
	if stderrors.Is(err, goredis.Nil) {
		return fmt.Errorf("job %s: %w", id, ojs.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if ojs.JobState(state) != ojs.JobStateActive {
		return fmt.Errorf("job %s is %s, not active: %w", id, state, ojs.ErrConflict)
	}
	return nil
}

// expire applies the retention period to a finished job.
func (b *Broker) expire(ctx context.Context, id string) {
	if b.retention <= 0 {
		return
	}
	if err := b.client.Expire(ctx, b.keys.job(id), b.retention).Err(); err != nil {
		b.logger.Warn("failed to set job retention", zap.String("job.id", id), zap.Error(err))
	}
}

// priorityStep separates priorities in a queue score. Millisecond
// timestamps stay below it, so every score is an exact integer.
const priorityStep = 1e13

// jobScore orders a queue by priority, highest first, then by time.
func jobScore(priority int, at time.Time) float64 {
	return float64(-priority)*priorityStep + float64(at.UnixMilli())
}

func dueScore(at time.Time) float64 {
	return float64(at.UnixMilli())
}
