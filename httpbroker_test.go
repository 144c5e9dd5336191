package ojs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func newTestHTTPBroker(t *testing.T, handler http.HandlerFunc, opts ...HTTPOption) *HTTPBroker {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPBroker(server.URL+"/", opts...)
}

func writeTestJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", ojsContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestHTTPBrokerPush(t *testing.T) {
	var received map[string]any
	b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ojs/v1/jobs" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != ojsContentType || r.Header.Get("OJS-Version") != ojsVersion {
			t.Errorf("headers = %v", r.Header)
		}
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("X-Tenant") != "acme" {
			t.Errorf("auth headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		writeTestJSON(w, http.StatusCreated, map[string]any{
			"job": map[string]any{"id": "server-id", "state": "available", "meta": map[string]any{"other": "x"}},
		})
	}, WithAuthToken("secret"), WithHeader("X-Tenant", "acme"))

	job := &Job{Type: "email.send", Queue: "email", Meta: map[string]any{"traceparent": "tp"}, Args: Args{"to": "a"}}
	if err := b.Push(context.Background(), job); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if job.ID != "server-id" || job.State != JobStateAvailable {
		t.Errorf("server fields not merged: %+v", job)
	}
	if job.Meta["traceparent"] != "tp" {
		t.Errorf("meta must be kept from the caller, got %v", job.Meta)
	}
	if received["meta"].(map[string]any)["traceparent"] != "tp" {
		t.Errorf("meta not sent: %v", received["meta"])
	}
}

func TestHTTPBrokerSchedule(t *testing.T) {
	var received Job
	b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		writeTestJSON(w, http.StatusCreated, map[string]any{"job": map[string]any{"id": "j-1", "state": "scheduled"}})
	})

	at := time.Date(2026, 6, 15, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	job := &Job{Type: "report.generate", Queue: "default"}
	if err := b.Schedule(context.Background(), job, at); err != nil {
		t.Fatal(err)
	}
	if received.ScheduledAt == nil || !received.ScheduledAt.Equal(at) {
		t.Errorf("scheduled_at sent = %v", received.ScheduledAt)
	}
	if job.State != JobStateScheduled {
		t.Errorf("state = %s", job.State)
	}
}

func TestHTTPBrokerWorkerEndpoints(t *testing.T) {
	paths := map[string]map[string]any{}
	b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		paths[r.URL.Path] = body
		switch r.URL.Path {
		case "/ojs/v1/workers/fetch":
			writeTestJSON(w, http.StatusOK, map[string]any{
				"jobs": []any{map[string]any{"id": "j-1", "type": "email.send", "queue": "email", "args": []any{map[string]any{"to": "a"}}}},
			})
		case "/ojs/v1/workers/heartbeat":
			writeTestJSON(w, http.StatusOK, map[string]any{"state": "quiet"})
		default:
			writeTestJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
		}
	})
	ctx := context.Background()

	jobs, err := b.Fetch(ctx, []string{"email"}, 5, "worker-1")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Fetch() = %v, %v", jobs, err)
	}
	if jobs[0].Args["to"] != "a" {
		t.Errorf("args = %v", jobs[0].Args)
	}
	if fetch := paths["/ojs/v1/workers/fetch"]; fetch["worker_id"] != "worker-1" || fetch["count"] != float64(5) {
		t.Errorf("fetch request = %v", fetch)
	}

	if err := b.Ack(ctx, jobs[0], map[string]any{"ok": true}); err != nil {
		t.Fatal(err)
	}
	if ack := paths["/ojs/v1/workers/ack"]; ack["job_id"] != "j-1" {
		t.Errorf("ack request = %v", ack)
	}

	if err := b.Nack(ctx, jobs[0], &JobError{Code: ErrCodeHandlerError, Message: "boom", Retryable: true}); err != nil {
		t.Fatal(err)
	}
	if nack := paths["/ojs/v1/workers/nack"]; nack["error"].(map[string]any)["message"] != "boom" {
		t.Errorf("nack request = %v", nack)
	}

	state, err := b.Heartbeat(ctx, Heartbeat{WorkerID: "worker-1", State: WorkerStateRunning})
	if err != nil || state != WorkerStateQuiet {
		t.Errorf("Heartbeat() = %q, %v", state, err)
	}
}

func TestHTTPBrokerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		sentinel  error
		retryable bool
	}{
		{"not found", 404, `{"error":{"code":"not_found","message":"job not found","request_id":"r-1"}}`, ErrNotFound, false},
		{"duplicate", 409, `{"error":{"code":"duplicate","message":"dup"}}`, ErrDuplicate, false},
		{"conflict", 409, `{"error":{"code":"invalid_request","message":"not active"}}`, ErrConflict, false},
		{"rate limited", 429, `{"error":{"code":"rate_limited","message":"slow down","retryable":true}}`, ErrRateLimited, true},
		{"backend", 503, `{"error":{"code":"backend_error","message":"redis down","retryable":true}}`, ErrBackend, true},
		{"not json", 502, `bad gateway`, ErrBackend, true},
		{"empty not found", 404, ``, ErrNotFound, false},
		{"empty bad request", 400, ``, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := b.GetJob(context.Background(), "j-1")
			var ojsErr *Error
			if !errors.As(err, &ojsErr) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if ojsErr.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %d", ojsErr.HTTPStatus)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("expected errors.Is(%v)", tt.sentinel)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v", IsRetryable(err))
			}
			if ojsErr.Code == "" || ojsErr.Message == "" {
				t.Errorf("code and message must be filled in, got %+v", ojsErr)
			}
			if !strings.HasPrefix(err.Error(), "httpbroker_get_job: ") {
				t.Errorf("error must name the operation, got %q", err)
			}
		})
	}
}

func TestHTTPBrokerUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	b := NewHTTPBroker(server.URL)

	err := b.Push(context.Background(), &Job{Type: "email.send"})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("Push() error = %v, want ErrBackend", err)
	}
	if !strings.HasPrefix(err.Error(), "httpbroker_push: ") {
		t.Errorf("error = %q", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Fetch(ctx, []string{"email"}, 1, "worker-1")
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrBackend) {
		t.Errorf("Fetch() with a cancelled context = %v", err)
	}
}

func TestHTTPBrokerSendsHeadersOnEveryRequest(t *testing.T) {
	var seen []string
	b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Accept")+"|"+r.Header.Get("X-Tenant"))
		w.WriteHeader(http.StatusNoContent)
	}, WithHeader("X-Tenant", "acme"))

	ctx := context.Background()
	if err := b.Ack(ctx, &Job{ID: "j-1"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Health(ctx); err != nil {
		t.Fatalf("empty success body must decode to zero values, got %v", err)
	}
	want := ojsContentType + "|acme"
	if len(seen) != 2 || seen[0] != want || seen[1] != want {
		t.Errorf("headers seen = %v", seen)
	}
}

func TestErrorHelpers(t *testing.T) {
	err := &Error{Code: ErrCodeNotFound, Message: "gone", RequestID: "r-1"}
	if err.Error() != "ojs: not_found: gone (request_id=r-1)" {
		t.Errorf("Error() = %q", err.Error())
	}
	if ErrorCode(err) != ErrCodeNotFound || ErrorCode(errors.New("plain")) != "" {
		t.Error("unexpected ErrorCode")
	}
	if IsRetryable(NonRetryable(&Error{Retryable: true})) {
		t.Error("NonRetryable must win over a retryable API error")
	}
	if NonRetryable(nil) != nil {
		t.Error("NonRetryable(nil) should be nil")
	}
}

func TestHTTPBrokerGetAndCancelJobEscapeID(t *testing.T) {
	var paths []string
	b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		writeTestJSON(w, http.StatusOK, map[string]any{"job": map[string]any{"id": "a/b", "state": "cancelled"}})
	})

	if _, err := b.GetJob(context.Background(), "a/b"); err != nil {
		t.Fatal(err)
	}
	job, err := b.CancelJob(context.Background(), "a/b")
	if err != nil {
		t.Fatal(err)
	}
	if job.State != JobStateCancelled {
		t.Errorf("state = %s", job.State)
	}
	want := []string{"GET /ojs/v1/jobs/a%2Fb", "DELETE /ojs/v1/jobs/a%2Fb"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v", paths)
	}
}

func TestHTTPBrokerHealth(t *testing.T) {
	b := newTestHTTPBroker(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": "1.0.0", "uptime_seconds": 12})
	})
	health, err := b.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.UptimeSeconds != 12 {
		t.Errorf("health = %+v", health)
	}
}
