package ojs

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- Enqueue Options ---

// enqueueConfig holds the resolved configuration for an enqueue operation.
type enqueueConfig struct {
	queue      string
	priority   int
	timeoutMS  int
	delayUntil *time.Time
	retry      *RetryPolicy
	tags       []string
	meta       map[string]any
	onSuccess  string
	onFailure  string
	onStopped  string
}

// EnqueueOption configures job enqueue behavior.
type EnqueueOption func(*enqueueConfig)

// WithQueue sets the target queue for [Client.Enqueue]. Default: "default".
// It has no effect on [Queue.Enqueue].
func WithQueue(queue string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.queue = queue
	}
}

// WithPriority sets the job priority. Higher values = higher priority.
func WithPriority(priority int) EnqueueOption {
	return func(c *enqueueConfig) {
		c.priority = priority
	}
}

// WithTimeout sets the maximum execution time for the job.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		c.timeoutMS = int(d.Milliseconds())
	}
}

// WithDelay schedules the job to run after the specified duration.
func WithDelay(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		t := time.Now().Add(d)
		c.delayUntil = &t
	}
}

// WithScheduledAt schedules the job to run at a specific time.
func WithScheduledAt(t time.Time) EnqueueOption {
	return func(c *enqueueConfig) {
		c.delayUntil = &t
	}
}

// WithRetry sets a custom retry policy for the job.
func WithRetry(policy RetryPolicy) EnqueueOption {
	return func(c *enqueueConfig) {
		c.retry = &policy
	}
}

// WithTags adds tags to the job for filtering and observability.
func WithTags(tags ...string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.tags = append(c.tags, tags...)
	}
}

// WithMeta sets metadata key-value pairs on the job.
func WithMeta(meta map[string]any) EnqueueOption {
	return func(c *enqueueConfig) {
		if c.meta == nil {
			c.meta = make(map[string]any)
		}
		for k, v := range meta {
			c.meta[k] = v
		}
	}
}

// WithOnSuccess names the callback the worker runs after the job succeeds.
func WithOnSuccess(name string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.onSuccess = name
	}
}

// WithOnFailure names the callback the worker runs after the job fails.
func WithOnFailure(name string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.onFailure = name
	}
}

// WithOnStopped names the callback the worker runs when the job is stopped
// before it finishes.
func WithOnStopped(name string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.onStopped = name
	}
}

func resolveEnqueueConfig(opts []EnqueueOption) enqueueConfig {
	cfg := enqueueConfig{
		queue: "default",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c enqueueConfig) newJob(jobType string, args Args, queue string) *Job {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Queue:     queue,
		Args:      args,
		Priority:  c.priority,
		TimeoutMS: c.timeoutMS,
		Tags:      c.tags,
		Meta:      c.meta,
		OnSuccess: c.onSuccess,
		OnFailure: c.onFailure,
		OnStopped: c.onStopped,
		Retry:     c.retry,
		CreatedAt: &now,
	}
	if c.retry != nil {
		job.MaxAttempts = c.retry.MaxAttempts
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return job
}

// --- Client Options ---

type clientConfig struct {
	hooks *HookTable
}

// ClientOption configures the OJS client.
type ClientOption func(*clientConfig)

// WithClientHooks sets the hook table the client's queues invoke.
// Default: [DefaultHooks].
func WithClientHooks(hooks *HookTable) ClientOption {
	return func(c *clientConfig) {
		c.hooks = hooks
	}
}

// --- HTTP broker Options ---

type httpConfig struct {
	httpClient *http.Client
	authToken  string
	headers    map[string]string
}

// HTTPOption configures an [HTTPBroker].
type HTTPOption func(*httpConfig)

// WithHTTPClient sets a custom net/http.Client for the broker.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *httpConfig) {
		c.httpClient = client
	}
}

// WithAuthToken sets a Bearer token for authentication.
func WithAuthToken(token string) HTTPOption {
	return func(c *httpConfig) {
		c.authToken = token
	}
}

// WithHeader sets a custom header on all requests.
func WithHeader(key, value string) HTTPOption {
	return func(c *httpConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// --- Worker Options ---

type workerConfig struct {
	name              string
	queues            []string
	concurrency       int
	gracePeriod       time.Duration
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	hooks             *HookTable
	logger            *zap.Logger
}

// WorkerOption configures the OJS worker.
type WorkerOption func(*workerConfig)

// WithName sets the worker name reported on jobs and heartbeats.
// Default: a name derived from host name, pid and start time.
func WithName(name string) WorkerOption {
	return func(c *workerConfig) {
		c.name = name
	}
}

// WithQueues sets the queues the worker subscribes to.
// The first queue has the highest priority.
func WithQueues(queues ...string) WorkerOption {
	return func(c *workerConfig) {
		c.queues = queues
	}
}

// WithConcurrency sets the maximum number of jobs processed in parallel.
// Default: 10.
func WithConcurrency(n int) WorkerOption {
	return func(c *workerConfig) {
		c.concurrency = n
	}
}

// WithGracePeriod sets the maximum time to wait for active jobs during shutdown.
// Default: 25 seconds.
func WithGracePeriod(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		c.gracePeriod = d
	}
}

// WithHeartbeatInterval sets the interval between heartbeats.
// Default: 5 seconds.
func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		c.heartbeatInterval = d
	}
}

// WithPollInterval sets the interval between fetches when no jobs are available.
// Default: 1 second.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		c.pollInterval = d
	}
}

// WithHooks sets the hook table the worker invokes. Default: [DefaultHooks].
func WithHooks(hooks *HookTable) WorkerOption {
	return func(c *workerConfig) {
		c.hooks = hooks
	}
}

// WithLogger sets the logger for the worker's operational events: ACK/NACK
// failures, fetch errors, callback failures and state transitions.
// Default: no logging.
func WithLogger(logger *zap.Logger) WorkerOption {
	return func(c *workerConfig) {
		c.logger = logger
	}
}

func resolveWorkerConfig(opts []WorkerOption) workerConfig {
	cfg := workerConfig{
		queues:            []string{"default"},
		concurrency:       10,
		gracePeriod:       25 * time.Second,
		heartbeatInterval: 5 * time.Second,
		pollInterval:      1 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.queues) == 0 {
		cfg.queues = []string{"default"}
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}
	if cfg.name == "" {
		cfg.name = generateWorkerID()
	}
	if cfg.hooks == nil {
		cfg.hooks = DefaultHooks
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return cfg
}
