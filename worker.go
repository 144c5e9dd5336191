package ojs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	WorkerStateRunning   WorkerState = "running"
	WorkerStateQuiet     WorkerState = "quiet"
	WorkerStateTerminate WorkerState = "terminate"
)

// jobResultRef is a mutable container for a job's result, shared across
// JobContext copies so that SetResult works through the middleware chain.
type jobResultRef struct {
	data map[string]any
}

// JobContext provides execution-scoped state and capabilities to job handlers.
type JobContext struct {
	// Job is the job being performed.
	Job *Job

	// Attempt is the current attempt number (1-indexed).
	Attempt int

	// Queue is the queue from which the job was fetched.
	Queue string

	ctx       context.Context
	resultRef *jobResultRef
	worker    *Worker
}

// Context returns the context.Context for this job execution. It carries
// the active span of the perform operation and is cancelled when the
// worker shuts down or the job times out.
func (jc JobContext) Context() context.Context {
	if jc.ctx == nil {
		return context.Background()
	}
	return jc.ctx
}

// WithContext returns a copy of jc that carries ctx. Middleware uses it to
// hand a derived context to the rest of the chain.
func (jc JobContext) WithContext(ctx context.Context) JobContext {
	jc.ctx = ctx
	return jc
}

// SetResult sets the job's return value.
func (jc JobContext) SetResult(result map[string]any) {
	if jc.resultRef != nil {
		jc.resultRef.data = result
	}
}

// Heartbeat reports worker liveness to brokers that track it. Use it in
// long-running jobs to prevent them from being reclaimed.
func (jc JobContext) Heartbeat() error {
	if jc.worker == nil {
		return nil
	}
	return jc.worker.sendHeartbeat(jc.Context())
}

// NewJobContextForTest creates a JobContext suitable for use in tests.
// This is intended only for testing middleware or handlers outside a Worker.
func NewJobContextForTest(job *Job) JobContext {
	return JobContext{
		Job:     job,
		Attempt: job.Attempt,
		Queue:   job.Queue,
		ctx:     context.Background(),
	}
}

// Worker fetches jobs from a [Broker] and performs them with registered
// handlers. Every step of a job's lifecycle goes through the worker's hook
// table.
type Worker struct {
	broker Broker
	config workerConfig
	logger *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc
	callbacks  map[string]CallbackFunc
	middleware middlewareChain

	queuesMu sync.Mutex
	queues   map[string]*Queue

	state       atomic.Value // WorkerState
	activeJobs  sync.Map     // job ID -> struct{}
	activeCount atomic.Int64

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewWorker creates a worker that performs jobs fetched from broker.
//
// Example:
//
//	worker, err := ojs.NewWorker(broker,
//	    ojs.WithName("billing-1"),
//	    ojs.WithQueues("default", "email"),
//	    ojs.WithConcurrency(10),
//	)
func NewWorker(broker Broker, opts ...WorkerOption) (*Worker, error) {
	if broker == nil {
		return nil, ErrNoBroker
	}
	cfg := resolveWorkerConfig(opts)
	for _, q := range cfg.queues {
		if err := validateQueue(q); err != nil {
			return nil, err
		}
	}

	w := &Worker{
		broker:    broker,
		config:    cfg,
		logger:    cfg.logger.With(zap.String("worker", cfg.name)),
		handlers:  make(map[string]HandlerFunc),
		callbacks: make(map[string]CallbackFunc),
		queues:    make(map[string]*Queue),
		stopped:   make(chan struct{}),
	}
	w.state.Store(WorkerStateRunning)
	return w, nil
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.config.name
}

// Queues returns the names of the queues the worker fetches from.
func (w *Worker) Queues() []string {
	out := make([]string, len(w.config.queues))
	copy(out, w.config.queues)
	return out
}

// Register associates a job type with a handler function.
//
// Example:
//
//	worker.Register("email.send", func(ctx ojs.JobContext) error {
//	    to := ctx.Job.Args["to"].(string)
//	    // process...
//	    ctx.SetResult(map[string]any{"messageId": "..."})
//	    return nil
//	})
func (w *Worker) Register(jobType string, handler HandlerFunc) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.handlers[jobType] = handler
}

// RegisterCallback makes fn available to jobs that name it with
// [WithOnSuccess], [WithOnFailure] or [WithOnStopped].
func (w *Worker) RegisterCallback(name string, fn CallbackFunc) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.callbacks[name] = fn
}

// Use adds execution middleware to the end of the worker's middleware chain.
func (w *Worker) Use(fn MiddlewareFunc) {
	w.UseNamed(fmt.Sprintf("middleware-%d", len(w.middleware.middleware)), fn)
}

// UseNamed adds a named execution middleware to the end of the chain.
//
// Example:
//
//	worker.UseNamed("logging", middleware.Logging(logger))
func (w *Worker) UseNamed(name string, fn MiddlewareFunc) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.middleware.add(name, fn)
}

// UseFirst adds a named middleware as the outermost layer of the chain.
func (w *Worker) UseFirst(name string, fn MiddlewareFunc) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.middleware.prepend(name, fn)
}

// RemoveMiddleware removes the named middleware and reports whether it was
// present.
func (w *Worker) RemoveMiddleware(name string) bool {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	return w.middleware.remove(name)
}

// Middleware returns the names of the installed middleware, outermost first.
func (w *Worker) Middleware() []string {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	return w.middleware.names()
}

// Start begins fetching and processing jobs. It blocks until the context
// is cancelled, then waits up to the grace period for active jobs.
//
// Example:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
//	defer cancel()
//	if err := worker.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func (w *Worker) Start(ctx context.Context) error {
	w.handlersMu.RLock()
	if len(w.handlers) == 0 {
		w.handlersMu.RUnlock()
		return fmt.Errorf("ojs: no handlers registered")
	}
	w.handlersMu.RUnlock()

	w.logger.Info("worker started",
		zap.Strings("queues", w.config.queues),
		zap.Int("concurrency", w.config.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	if hb, ok := w.broker.(Heartbeater); ok {
		g.Go(func() error {
			w.heartbeatLoop(gctx, hb)
			return nil
		})
	}
	g.Go(func() error {
		w.fetchLoop(gctx)
		return nil
	})

	<-ctx.Done()
	w.setState(WorkerStateTerminate)

	graceDone := make(chan struct{})
	go func() {
		w.waitForActiveJobs()
		close(graceDone)
	}()

	select {
	case <-graceDone:
	case <-time.After(w.config.gracePeriod):
		w.logger.Warn("grace period expired with active jobs",
			zap.Int64("active_jobs", w.activeCount.Load()),
		)
	}

	w.stopOnce.Do(func() {
		close(w.stopped)
	})

	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

// Drain performs jobs until the worker's queues have nothing available and
// returns the number of jobs performed. Jobs scheduled for later are left
// in place.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		jobs, err := w.broker.Fetch(ctx, w.config.queues, w.config.concurrency, w.config.name)

		var wg sync.WaitGroup
		for _, job := range jobs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.processJob(ctx, job)
			}()
		}
		wg.Wait()
		processed += len(jobs)

		if err != nil {
			return processed, fmt.Errorf("ojs: fetch: %w", err)
		}
		if len(jobs) == 0 {
			return processed, nil
		}
	}
}

// State returns the current worker lifecycle state.
func (w *Worker) State() WorkerState {
	return w.state.Load().(WorkerState)
}

func (w *Worker) setState(s WorkerState) {
	if prev := w.State(); prev != s {
		w.state.Store(s)
		w.logger.Info("worker state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(s)),
		)
	}
}

// fetchLoop is the main loop that fetches and dispatches jobs.
func (w *Worker) fetchLoop(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(w.config.concurrency))

	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-w.stopped:
			return false
		case <-time.After(w.config.pollInterval):
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		default:
		}

		if w.State() != WorkerStateRunning {
			if !wait() {
				return
			}
			continue
		}

		count := w.config.concurrency - int(w.activeCount.Load())
		if count <= 0 {
			if !wait() {
				return
			}
			continue
		}

		jobs, err := w.broker.Fetch(ctx, w.config.queues, count, w.config.name)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("fetch failed", zap.Error(err), zap.Int("reserved", len(jobs)))
		}

		for _, job := range jobs {
			// Fetched jobs are already active in the broker; run them even
			// when ctx ends so they get acked or nacked.
			if err := sem.Acquire(context.WithoutCancel(ctx), 1); err != nil {
				return
			}
			w.activeJobs.Store(job.ID, struct{}{})
			w.activeCount.Add(1)

			go func() {
				defer func() {
					sem.Release(1)
					w.activeJobs.Delete(job.ID)
					w.activeCount.Add(-1)
				}()
				w.processJob(ctx, job)
			}()
		}

		if err != nil || len(jobs) == 0 {
			if !wait() {
				return
			}
		}
	}
}

// queue returns the queue object a fetched job belongs to.
func (w *Worker) queue(name string) (*Queue, error) {
	if name == "" {
		name = w.config.queues[0]
	}
	w.queuesMu.Lock()
	defer w.queuesMu.Unlock()
	if q, ok := w.queues[name]; ok {
		return q, nil
	}
	q, err := NewQueue(name, w.broker, w.config.hooks)
	if err != nil {
		return nil, err
	}
	w.queues[name] = q
	return q, nil
}

// processJob runs the whole lifecycle of one fetched job.
func (w *Worker) processJob(ctx context.Context, job *Job) {
	q, err := w.queue(job.Queue)
	if err != nil {
		w.logger.Error("fetched job has an invalid queue",
			zap.String("job.id", job.ID),
			zap.String("job.queue", job.Queue),
			zap.Error(err),
		)
		return
	}
	job.WorkerName = w.config.name

	call := Call{Receiver: w, Args: []any{job, q}}
	_, err = w.config.hooks.Invoke(ctx, HookPerformJob, call, func(ctx context.Context, _ Call) (any, error) {
		return w.performJob(ctx, job, q)
	})
	if err != nil {
		w.logger.Warn("job outcome not reported to broker",
			zap.String("job.id", job.ID),
			zap.String("job.type", job.Type),
			zap.Error(err),
		)
	}
}

// performJob performs job and reports the outcome. The boolean result is
// whether the job succeeded; the error is only set when the outcome could
// not be reported.
func (w *Worker) performJob(ctx context.Context, job *Job, q *Queue) (bool, error) {
	now := time.Now().UTC()
	job.StartedAt = &now
	job.State = JobStateActive
	if job.Attempt == 0 {
		job.Attempt = 1
	}

	runErr := w.runJob(ctx, job, q)
	if runErr == nil {
		w.runCallback(ctx, job, CallbackSuccess, nil)
		return true, w.handleJobSuccess(ctx, job, q)
	}

	kind := CallbackFailure
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(runErr, ctxErr) {
		kind = CallbackStopped
	}
	w.runCallback(ctx, job, kind, runErr)
	return false, w.handleJobFailure(ctx, job, q, runErr, kind == CallbackStopped)
}

// runJob calls the handler through the middleware chain. Panics are turned
// into errors once the perform hook has observed them.
func (w *Worker) runJob(ctx context.Context, job *Job, q *Queue) (err error) {
	if job.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ojs: job %s (id=%s) panicked: %v", job.Type, job.ID, r)
		}
	}()

	ref := &jobResultRef{}
	_, err = w.config.hooks.Invoke(ctx, HookJobPerform, Call{Receiver: job}, func(ctx context.Context, _ Call) (any, error) {
		w.handlersMu.RLock()
		handler, ok := w.handlers[job.Type]
		wrapped := w.middleware.then(handler)
		w.handlersMu.RUnlock()
		if !ok {
			return nil, NonRetryable(fmt.Errorf("ojs: no handler registered for job type %q", job.Type))
		}

		jctx := JobContext{
			Job:       job,
			Attempt:   job.Attempt,
			Queue:     q.Name,
			ctx:       ctx,
			resultRef: ref,
			worker:    w,
		}
		if err := wrapped(jctx); err != nil {
			return nil, err
		}
		return ref.data, nil
	})
	if err == nil {
		job.Result = ref.data
	}
	return err
}

// runCallback executes the job's callback of the given kind, if any.
// Callback failures are logged and never change the job outcome.
func (w *Worker) runCallback(ctx context.Context, job *Job, kind CallbackKind, cause error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job callback panicked",
				zap.String("job.id", job.ID),
				zap.String("callback", job.Callback(kind)),
				zap.Any("panic", r),
			)
		}
	}()

	call := Call{Receiver: job, Args: []any{cause}}
	_, err := w.config.hooks.Invoke(ctx, kind.HookPoint(), call, func(ctx context.Context, _ Call) (any, error) {
		name := job.Callback(kind)
		if name == "" {
			return nil, nil
		}
		w.handlersMu.RLock()
		fn, ok := w.callbacks[name]
		w.handlersMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, name)
		}
		return nil, fn(ctx, job, cause)
	})
	if err != nil {
		w.logger.Warn("job callback failed",
			zap.String("job.id", job.ID),
			zap.String("callback.kind", string(kind)),
			zap.String("callback", job.Callback(kind)),
			zap.Error(err),
		)
	}
}

// handleJobSuccess acknowledges a completed job.
func (w *Worker) handleJobSuccess(ctx context.Context, job *Job, q *Queue) error {
	call := Call{Receiver: w, Named: map[string]any{"job": job, "queue": q}}
	_, err := w.config.hooks.Invoke(ctx, HookHandleJobSuccess, call, func(ctx context.Context, _ Call) (any, error) {
		now := time.Now().UTC()
		job.CompletedAt = &now
		job.State = JobStateCompleted
		if err := w.broker.Ack(ctx, job, job.Result); err != nil {
			w.logger.Error("ack failed", zap.String("job.id", job.ID), zap.Error(err))
			return nil, fmt.Errorf("ojs: ack job %s: %w", job.ID, err)
		}
		return nil, nil
	})
	return err
}

// handleJobFailure reports a failed or stopped job to the broker.
func (w *Worker) handleJobFailure(ctx context.Context, job *Job, q *Queue, cause error, stopped bool) error {
	code := ErrCodeHandlerError
	if stopped {
		code = ErrCodeCancelled
	} else if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCodeTimeout
	}
	jobErr := jobErrorFrom(code, cause)

	call := Call{Receiver: w, Named: map[string]any{"job": job, "queue": q}}
	_, err := w.config.hooks.Invoke(ctx, HookHandleJobFailure, call, func(ctx context.Context, _ Call) (any, error) {
		job.Error = jobErr
		// A stopped job is reported even though ctx is already cancelled.
		if stopped {
			ctx = context.WithoutCancel(ctx)
		}
		if err := w.broker.Nack(ctx, job, jobErr); err != nil {
			w.logger.Error("nack failed", zap.String("job.id", job.ID), zap.Error(err))
			return nil, fmt.Errorf("ojs: nack job %s: %w", job.ID, err)
		}
		return nil, nil
	})
	return err
}

// heartbeatLoop sends periodic heartbeats to the broker.
func (w *Worker) heartbeatLoop(ctx context.Context, hb Heartbeater) {
	ticker := time.NewTicker(w.config.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case <-ticker.C:
			if err := w.beat(ctx, hb); err != nil && ctx.Err() == nil {
				w.logger.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) sendHeartbeat(ctx context.Context) error {
	hb, ok := w.broker.(Heartbeater)
	if !ok {
		return nil
	}
	return w.beat(ctx, hb)
}

func (w *Worker) beat(ctx context.Context, hb Heartbeater) error {
	ids := w.getActiveJobIDs()
	desired, err := hb.Heartbeat(ctx, Heartbeat{
		WorkerID:     w.config.name,
		State:        w.State(),
		ActiveJobs:   len(ids),
		ActiveJobIDs: ids,
	})
	if err != nil {
		return err
	}
	if desired != "" {
		w.handleServerState(desired)
	}
	return nil
}

// handleServerState processes a state directive from the broker.
// Backward transitions from terminate are not allowed.
func (w *Worker) handleServerState(desired WorkerState) {
	current := w.State()
	switch {
	case current == WorkerStateRunning && desired == WorkerStateQuiet,
		current == WorkerStateRunning && desired == WorkerStateTerminate,
		current == WorkerStateQuiet && desired == WorkerStateTerminate,
		current == WorkerStateQuiet && desired == WorkerStateRunning:
		w.setState(desired)
	}
}

func (w *Worker) getActiveJobIDs() []string {
	ids := []string{}
	w.activeJobs.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

func (w *Worker) waitForActiveJobs() {
	for w.activeCount.Load() > 0 {
		time.Sleep(100 * time.Millisecond)
	}
}

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("worker_%s_%d_%d", hostname, os.Getpid(), time.Now().UnixNano())
}
