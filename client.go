package ojs

import (
	"context"
	"fmt"
	"sync"
)

// Client enqueues jobs on a [Broker]. Every enqueue goes through the
// client's hook table so instrumentation sees it.
type Client struct {
	broker Broker
	hooks  *HookTable

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewClient creates a client that enqueues onto broker.
//
// Example:
//
//	broker := ojs.NewHTTPBroker("http://localhost:8080")
//	client, err := ojs.NewClient(broker)
func NewClient(broker Broker, opts ...ClientOption) (*Client, error) {
	if broker == nil {
		return nil, ErrNoBroker
	}
	cfg := clientConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hooks == nil {
		cfg.hooks = DefaultHooks
	}
	return &Client{
		broker: broker,
		hooks:  cfg.hooks,
		queues: make(map[string]*Queue),
	}, nil
}

// Queue returns the queue with the given name, creating it on first use.
func (c *Client) Queue(name string) (*Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queues[name]; ok {
		return q, nil
	}
	q, err := NewQueue(name, c.broker, c.hooks)
	if err != nil {
		return nil, err
	}
	c.queues[name] = q
	return q, nil
}

// Enqueue submits a single job for processing on the queue chosen with
// [WithQueue].
//
// Example:
//
//	job, err := client.Enqueue(ctx, "email.send",
//	    ojs.Args{"to": "user@example.com"},
//	    ojs.WithQueue("email"),
//	    ojs.WithRetry(ojs.RetryPolicy{MaxAttempts: 5}),
//	)
func (c *Client) Enqueue(ctx context.Context, jobType string, args Args, opts ...EnqueueOption) (*Job, error) {
	cfg := resolveEnqueueConfig(opts)
	q, err := c.Queue(cfg.queue)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, jobType, args, opts...)
}

// EnqueueBatch submits multiple jobs. Every request is validated before any
// job is handed to the broker; each job is then enqueued on its own.
//
// Example:
//
//	jobs, err := client.EnqueueBatch(ctx, []ojs.JobRequest{
//	    {Type: "email.send", Args: ojs.Args{"to": "a@example.com"}},
//	    {Type: "email.send", Args: ojs.Args{"to": "b@example.com"}},
//	})
func (c *Client) EnqueueBatch(ctx context.Context, requests []JobRequest) ([]*Job, error) {
	for i, r := range requests {
		if err := validateJobType(r.Type); err != nil {
			return nil, fmt.Errorf("job[%d]: %w", i, err)
		}
		cfg := resolveEnqueueConfig(r.Options)
		if err := validateQueue(cfg.queue); err != nil {
			return nil, fmt.Errorf("job[%d]: %w", i, err)
		}
		if err := cfg.validateCallbacks(); err != nil {
			return nil, fmt.Errorf("job[%d]: %w", i, err)
		}
	}

	jobs := make([]*Job, 0, len(requests))
	for i, r := range requests {
		job, err := c.Enqueue(ctx, r.Type, r.Args, r.Options...)
		if err != nil {
			return jobs, fmt.Errorf("job[%d]: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
