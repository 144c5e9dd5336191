package ojs

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	JobStateScheduled JobState = "scheduled"
	JobStateAvailable JobState = "available"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateRetryable JobState = "retryable"
	JobStateCancelled JobState = "cancelled"
	JobStateDiscarded JobState = "discarded"
)

// IsTerminal returns true if the job state is a terminal state.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateCancelled || s == JobStateDiscarded
}

// Args represents the arguments for a job as a key-value map.
// On the OJS wire format, args are serialized as a JSON array
// containing a single object: [{"key": "value", ...}].
type Args map[string]any

// Job represents an OJS job envelope.
//
// Meta travels with the job through the broker. Trace context written by a
// producer is read back from it by the worker that performs the job.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	State       JobState       `json:"state"`
	Queue       string         `json:"queue"`
	Priority    int            `json:"priority"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	TimeoutMS   int            `json:"timeout_ms,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *JobError      `json:"error,omitempty"`

	// WorkerName is the name of the worker that took the job.
	WorkerName string `json:"worker_name,omitempty"`

	// OnSuccess, OnFailure and OnStopped name callbacks registered on the
	// worker with [Worker.RegisterCallback]. Empty means no callback.
	OnSuccess string `json:"on_success,omitempty"`
	OnFailure string `json:"on_failure,omitempty"`
	OnStopped string `json:"on_stopped,omitempty"`

	Retry *RetryPolicy `json:"-"`

	CreatedAt   *time.Time `json:"created_at,omitempty"`
	EnqueuedAt  *time.Time `json:"enqueued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// Args is the user-friendly map representation.
	// The SDK handles conversion to/from the OJS wire format (JSON array).
	Args Args `json:"-"`
}

// Callback returns the callback name registered on the job for kind.
func (j *Job) Callback(kind CallbackKind) string {
	if j == nil {
		return ""
	}
	switch kind {
	case CallbackSuccess:
		return j.OnSuccess
	case CallbackFailure:
		return j.OnFailure
	case CallbackStopped:
		return j.OnStopped
	}
	return ""
}

type jobJSON struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	State       JobState         `json:"state"`
	Queue       string           `json:"queue"`
	Priority    int              `json:"priority"`
	Attempt     int              `json:"attempt"`
	MaxAttempts int              `json:"max_attempts"`
	TimeoutMS   int              `json:"timeout_ms,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Meta        map[string]any   `json:"meta,omitempty"`
	Result      map[string]any   `json:"result,omitempty"`
	Error       *JobError        `json:"error,omitempty"`
	WorkerName  string           `json:"worker_name,omitempty"`
	OnSuccess   string           `json:"on_success,omitempty"`
	OnFailure   string           `json:"on_failure,omitempty"`
	OnStopped   string           `json:"on_stopped,omitempty"`
	Retry       *retryPolicyWire `json:"retry,omitempty"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
	EnqueuedAt  *time.Time       `json:"enqueued_at,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty"`
	Args        json.RawMessage  `json:"args,omitempty"`
}

// MarshalJSON encodes the job in the OJS wire format.
func (j Job) MarshalJSON() ([]byte, error) {
	raw := jobJSON{
		ID:          j.ID,
		Type:        j.Type,
		State:       j.State,
		Queue:       j.Queue,
		Priority:    j.Priority,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		TimeoutMS:   j.TimeoutMS,
		Tags:        j.Tags,
		Meta:        j.Meta,
		Result:      j.Result,
		Error:       j.Error,
		WorkerName:  j.WorkerName,
		OnSuccess:   j.OnSuccess,
		OnFailure:   j.OnFailure,
		OnStopped:   j.OnStopped,
		CreatedAt:   j.CreatedAt,
		EnqueuedAt:  j.EnqueuedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		ScheduledAt: j.ScheduledAt,
	}
	if j.Retry != nil {
		raw.Retry = j.Retry.toWire()
	}
	args, err := json.Marshal(argsToWire(j.Args))
	if err != nil {
		return nil, err
	}
	raw.Args = args
	return json.Marshal(raw)
}

// UnmarshalJSON decodes a job from the OJS wire format.
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*j = Job{
		ID:          raw.ID,
		Type:        raw.Type,
		State:       raw.State,
		Queue:       raw.Queue,
		Priority:    raw.Priority,
		Attempt:     raw.Attempt,
		MaxAttempts: raw.MaxAttempts,
		TimeoutMS:   raw.TimeoutMS,
		Tags:        raw.Tags,
		Meta:        raw.Meta,
		Result:      raw.Result,
		Error:       raw.Error,
		WorkerName:  raw.WorkerName,
		OnSuccess:   raw.OnSuccess,
		OnFailure:   raw.OnFailure,
		OnStopped:   raw.OnStopped,
		Retry:       retryPolicyFromWire(raw.Retry),
		CreatedAt:   raw.CreatedAt,
		EnqueuedAt:  raw.EnqueuedAt,
		StartedAt:   raw.StartedAt,
		CompletedAt: raw.CompletedAt,
		ScheduledAt: raw.ScheduledAt,
	}

	if len(raw.Args) > 0 {
		var arr []any
		if err := json.Unmarshal(raw.Args, &arr); err == nil {
			j.Args = argsFromWire(arr)
		}
	}
	return nil
}

// JobError represents a structured error associated with a job.
type JobError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// JobRequest represents a request to enqueue a job.
type JobRequest struct {
	Type    string
	Args    Args
	Options []EnqueueOption
}

func argsToWire(a Args) []any {
	if len(a) == 0 {
		return []any{}
	}
	return []any{map[string]any(a)}
}

func argsFromWire(raw []any) Args {
	if len(raw) == 0 {
		return Args{}
	}
	if m, ok := raw[0].(map[string]any); ok {
		return Args(m)
	}
	// Positional args are indexed by position.
	result := make(Args, len(raw))
	for i, v := range raw {
		result[strconv.Itoa(i)] = v
	}
	return result
}
