package ojs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	ojsContentType = "application/openjobspec+json"
	ojsVersion     = "1.0.0-rc.1"
	basePath       = "/ojs/v1"

	// maxErrorBody caps how much of a failed response ends up in an error.
	maxErrorBody = 4 << 10
)

// HTTPBroker is a [Broker] that talks to an OJS-compliant server over the
// OJS HTTP binding.
//
// Every error carries the failing operation as a prefix. Error responses are
// returned as *[Error]; a response without an OJS error document gets its
// code from the status, so 5xx answers match [ErrBackend] and are retryable.
type HTTPBroker struct {
	baseURL string
	client  *http.Client
	header  http.Header
}

var (
	_ Broker      = (*HTTPBroker)(nil)
	_ Heartbeater = (*HTTPBroker)(nil)
)

// NewHTTPBroker returns a broker for the OJS server at serverURL.
//
// Example:
//
//	broker := ojs.NewHTTPBroker("http://localhost:8080", ojs.WithAuthToken(token))
func NewHTTPBroker(serverURL string, opts ...HTTPOption) *HTTPBroker {
	cfg := httpConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &HTTPBroker{
		baseURL: strings.TrimRight(serverURL, "/") + basePath,
		client:  cfg.httpClient,
		header:  make(http.Header, len(cfg.headers)+4),
	}
	if b.client == nil {
		b.client = http.DefaultClient
	}
	b.header.Set("Content-Type", ojsContentType)
	b.header.Set("Accept", ojsContentType)
	b.header.Set("OJS-Version", ojsVersion)
	if cfg.authToken != "" {
		b.header.Set("Authorization", "Bearer "+cfg.authToken)
	}
	for k, v := range cfg.headers {
		b.header.Set(k, v)
	}
	return b
}

type jobResponse struct {
	Job Job `json:"job"`
}

// Push implements [Broker].
func (b *HTTPBroker) Push(ctx context.Context, job *Job) error {
	const op = "httpbroker_push"
	var resp jobResponse
	if err := b.call(ctx, http.MethodPost, "/jobs", job, &resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.merge(job, &resp.Job)
	return nil
}

// Schedule implements [Broker]. The server holds the job until at.
func (b *HTTPBroker) Schedule(ctx context.Context, job *Job, at time.Time) error {
	const op = "httpbroker_schedule"
	scheduled := at.UTC()
	job.ScheduledAt = &scheduled

	var resp jobResponse
	if err := b.call(ctx, http.MethodPost, "/jobs", job, &resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.merge(job, &resp.Job)
	return nil
}

// merge copies the server-assigned fields of resp into job. Meta is kept
// from job so that the caller's carrier stays the persisted one.
func (b *HTTPBroker) merge(job, resp *Job) {
	if resp.ID != "" {
		job.ID = resp.ID
	}
	if resp.State != "" {
		job.State = resp.State
	}
	if resp.EnqueuedAt != nil {
		job.EnqueuedAt = resp.EnqueuedAt
	}
}

// Fetch implements [Broker]. The server reserves the returned jobs for
// workerID; nothing is reserved when an error is returned.
func (b *HTTPBroker) Fetch(ctx context.Context, queues []string, count int, workerID string) ([]*Job, error) {
	const op = "httpbroker_fetch"
	req := struct {
		Queues   []string `json:"queues"`
		Count    int      `json:"count"`
		WorkerID string   `json:"worker_id"`
	}{queues, count, workerID}

	var resp struct {
		Jobs []*Job `json:"jobs"`
	}
	if err := b.call(ctx, http.MethodPost, "/workers/fetch", req, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp.Jobs, nil
}

// Ack implements [Broker].
func (b *HTTPBroker) Ack(ctx context.Context, job *Job, result map[string]any) error {
	const op = "httpbroker_ack"
	req := struct {
		JobID  string         `json:"job_id"`
		Result map[string]any `json:"result,omitempty"`
	}{job.ID, result}

	if err := b.call(ctx, http.MethodPost, "/workers/ack", req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Nack implements [Broker].
func (b *HTTPBroker) Nack(ctx context.Context, job *Job, jobErr *JobError) error {
	const op = "httpbroker_nack"
	req := struct {
		JobID string    `json:"job_id"`
		Error *JobError `json:"error"`
	}{job.ID, jobErr}

	if err := b.call(ctx, http.MethodPost, "/workers/nack", req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Heartbeat implements [Heartbeater].
func (b *HTTPBroker) Heartbeat(ctx context.Context, hb Heartbeat) (WorkerState, error) {
	const op = "httpbroker_heartbeat"
	var resp struct {
		State WorkerState `json:"state"`
	}
	if err := b.call(ctx, http.MethodPost, "/workers/heartbeat", hb, &resp); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return resp.State, nil
}

// GetJob retrieves the full details of a job by ID.
func (b *HTTPBroker) GetJob(ctx context.Context, id string) (*Job, error) {
	const op = "httpbroker_get_job"
	var resp jobResponse
	if err := b.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &resp.Job, nil
}

// CancelJob cancels a job, preventing it from being processed.
func (b *HTTPBroker) CancelJob(ctx context.Context, id string) (*Job, error) {
	const op = "httpbroker_cancel_job"
	var resp jobResponse
	if err := b.call(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &resp.Job, nil
}

// HealthStatus represents the health of the OJS server.
type HealthStatus struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

// Health checks the health status of the OJS server.
func (b *HTTPBroker) Health(ctx context.Context) (*HealthStatus, error) {
	const op = "httpbroker_health"
	var resp HealthStatus
	if err := b.call(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &resp, nil
}

// call sends in as the JSON body of one request and decodes the response
// into out. Both may be nil. A server that cannot be reached is reported as
// [ErrBackend] unless ctx ended first.
func (b *HTTPBroker) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header = b.header.Clone()

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return responseError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError turns a failed response into an *Error. The OJS error
// document wins; whatever it leaves out is derived from the status.
func responseError(status int, data []byte) *Error {
	var doc struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Error == nil {
		doc.Error = &Error{
			Message:   strings.TrimSpace(string(data)),
			Retryable: status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
		}
	}

	e := doc.Error
	e.HTTPStatus = status
	if e.Code == "" {
		e.Code = statusCode(status)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func statusCode(status int) string {
	switch {
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status >= http.StatusInternalServerError:
		return ErrCodeBackendError
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrCodeInvalidRequest
	}
	return "unknown"
}
