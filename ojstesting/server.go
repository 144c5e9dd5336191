package ojstesting

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// NewServer starts an OJS HTTP server backed by b and returns it. Point an
// [ojs.HTTPBroker] at server.URL to exercise the HTTP binding end to end.
// The server is closed when the test finishes.
func NewServer(t testing.TB, b *Broker) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(serverHandler(b))
	t.Cleanup(server.Close)
	return server
}

func serverHandler(b *Broker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ojs/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var job ojs.Job
		if !decode(w, r, &job) {
			return
		}
		var err error
		if job.ScheduledAt != nil && job.ScheduledAt.After(time.Now()) {
			err = b.Schedule(r.Context(), &job, *job.ScheduledAt)
		} else {
			err = b.Push(r.Context(), &job)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, ojs.ErrCodeBackendError, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"job": job})
	})
	mux.HandleFunc("GET /ojs/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		job, ok := b.Job(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, ojs.ErrCodeNotFound, errors.New("job not found"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	})
	mux.HandleFunc("POST /ojs/v1/workers/fetch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Queues   []string `json:"queues"`
			Count    int      `json:"count"`
			WorkerID string   `json:"worker_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		jobs, err := b.Fetch(r.Context(), req.Queues, req.Count, req.WorkerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ojs.ErrCodeBackendError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	})
	mux.HandleFunc("POST /ojs/v1/workers/ack", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID  string         `json:"job_id"`
			Result map[string]any `json:"result"`
		}
		if !decode(w, r, &req) {
			return
		}
		job, ok := b.Job(req.JobID)
		if !ok {
			writeError(w, http.StatusNotFound, ojs.ErrCodeNotFound, errors.New("job not found"))
			return
		}
		job.Result = req.Result
		if err := b.Ack(r.Context(), job, req.Result); err != nil {
			writeError(w, http.StatusConflict, ojs.ErrCodeInvalidRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	})
	mux.HandleFunc("POST /ojs/v1/workers/nack", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID string        `json:"job_id"`
			Error *ojs.JobError `json:"error"`
		}
		if !decode(w, r, &req) {
			return
		}
		job, ok := b.Job(req.JobID)
		if !ok {
			writeError(w, http.StatusNotFound, ojs.ErrCodeNotFound, errors.New("job not found"))
			return
		}
		if err := b.Nack(r.Context(), job, req.Error); err != nil {
			writeError(w, http.StatusConflict, ojs.ErrCodeInvalidRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	})
	mux.HandleFunc("POST /ojs/v1/workers/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var hb ojs.Heartbeat
		if !decode(w, r, &hb) {
			return
		}
		state, _ := b.Heartbeat(r.Context(), hb)
		writeJSON(w, http.StatusOK, map[string]any{"state": state})
	})
	mux.HandleFunc("GET /ojs/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": "fake"})
	})
	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ojs.ErrCodeInvalidPayload, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/openjobspec+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":      code,
			"message":   err.Error(),
			"retryable": strings.HasPrefix(code, "backend"),
		},
	})
}
