package ojs

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy defines the retry behavior for a job.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of times a job will be attempted.
	// Default: 3.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	// Default: 1 second.
	InitialInterval time.Duration

	// BackoffCoefficient is the multiplier applied to the interval between retries.
	// Default: 2.0 (exponential backoff).
	BackoffCoefficient float64

	// MaxInterval is the maximum delay between retries.
	// Default: 5 minutes.
	MaxInterval time.Duration

	// Jitter adds up to 50% randomization to retry intervals.
	Jitter bool
}

type retryPolicyWire struct {
	MaxAttempts        int     `json:"max_attempts,omitempty"`
	InitialIntervalMS  int64   `json:"initial_interval_ms,omitempty"`
	BackoffCoefficient float64 `json:"backoff_coefficient,omitempty"`
	MaxIntervalMS      int64   `json:"max_interval_ms,omitempty"`
	Jitter             bool    `json:"jitter,omitempty"`
}

func (r RetryPolicy) toWire() *retryPolicyWire {
	return &retryPolicyWire{
		MaxAttempts:        r.MaxAttempts,
		InitialIntervalMS:  r.InitialInterval.Milliseconds(),
		BackoffCoefficient: r.BackoffCoefficient,
		MaxIntervalMS:      r.MaxInterval.Milliseconds(),
		Jitter:             r.Jitter,
	}
}

func retryPolicyFromWire(w *retryPolicyWire) *RetryPolicy {
	if w == nil {
		return nil
	}
	return &RetryPolicy{
		MaxAttempts:        w.MaxAttempts,
		InitialInterval:    time.Duration(w.InitialIntervalMS) * time.Millisecond,
		BackoffCoefficient: w.BackoffCoefficient,
		MaxInterval:        time.Duration(w.MaxIntervalMS) * time.Millisecond,
		Jitter:             w.Jitter,
	}
}

// DefaultRetryPolicy returns the OJS default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Minute,
		Jitter:             true,
	}
}

// Backoff returns the delay before retrying after the given attempt
// (1-indexed). Zero fields fall back to [DefaultRetryPolicy].
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	def := DefaultRetryPolicy()
	initial, coef, ceiling := r.InitialInterval, r.BackoffCoefficient, r.MaxInterval
	if initial <= 0 {
		initial = def.InitialInterval
	}
	if coef <= 0 {
		coef = def.BackoffCoefficient
	}
	if ceiling <= 0 {
		ceiling = def.MaxInterval
	}
	if attempt < 1 {
		attempt = 1
	}

	d := float64(initial) * math.Pow(coef, float64(attempt-1))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	if r.Jitter {
		d += d * 0.5 * rand.Float64()
		if d > float64(ceiling) {
			d = float64(ceiling)
		}
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a job that failed with jobErr on its current
// attempt gets another one.
func ShouldRetry(job *Job, jobErr *JobError) bool {
	if jobErr != nil && !jobErr.Retryable {
		return false
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return job.Attempt < maxAttempts
}

// RetryDelay returns the delay before the next attempt of job.
func RetryDelay(job *Job) time.Duration {
	policy := DefaultRetryPolicy()
	if job.Retry != nil {
		policy = *job.Retry
	}
	return policy.Backoff(job.Attempt)
}
