package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ojs "github.com/openjobspec/ojs-otel-go"
)

const namespace = "ojs"

// Outcome is how a job execution ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePanicked  Outcome = "panicked"
)

var _ prometheus.Collector = (*PrometheusRecorder)(nil)

// PrometheusRecorder holds the job collectors fed by [Metrics]. It is itself
// a prometheus.Collector; register it once.
//
//	ojs_jobs_started_total{job_type,queue}
//	ojs_jobs_finished_total{job_type,queue,outcome}
//	ojs_jobs_active{queue}
//	ojs_job_duration_seconds{job_type,queue,outcome}
//	ojs_job_attempt{job_type}
type PrometheusRecorder struct {
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	active   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	attempt  *prometheus.HistogramVec
}

// NewPrometheusRecorder returns an unregistered recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Number of job executions started",
		}, []string{"job_type", "queue"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Number of job executions finished, by outcome",
		}, []string{"job_type", "queue", "outcome"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of jobs executing per queue",
		}, []string{"queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution duration, by outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type", "queue", "outcome"}),
		attempt: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_attempt",
			Help:      "Attempt number of started job executions",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 25},
		}, []string{"job_type"}),
	}
}

// Metrics returns middleware that feeds rec. A panic is counted as
// [OutcomePanicked] and passed on, so install [Recovery] outside of it.
//
//	worker.UseNamed("recovery", middleware.Recovery(logger))
//	worker.UseNamed("prometheus", middleware.Metrics(rec))
func Metrics(rec *PrometheusRecorder) ojs.MiddlewareFunc {
	return func(jc ojs.JobContext, next ojs.HandlerFunc) (err error) {
		end := rec.begin(jc)
		defer func() {
			if r := recover(); r != nil {
				end(OutcomePanicked)
				panic(r)
			}
			if err != nil {
				end(OutcomeFailed)
				return
			}
			end(OutcomeCompleted)
		}()
		return next(jc)
	}
}

// begin records the start of jc and returns the func that records its end.
func (r *PrometheusRecorder) begin(jc ojs.JobContext) func(Outcome) {
	jobType, queue := jc.Job.Type, jc.Queue
	r.started.WithLabelValues(jobType, queue).Inc()
	r.attempt.WithLabelValues(jobType).Observe(float64(jc.Attempt))

	active := r.active.WithLabelValues(queue)
	active.Inc()
	start := time.Now()

	return func(o Outcome) {
		active.Dec()
		r.finished.WithLabelValues(jobType, queue, string(o)).Inc()
		r.duration.WithLabelValues(jobType, queue, string(o)).Observe(time.Since(start).Seconds())
	}
}

// Describe implements prometheus.Collector.
func (r *PrometheusRecorder) Describe(d chan<- *prometheus.Desc) {
	for _, c := range r.collectors() {
		c.Describe(d)
	}
}

// Collect implements prometheus.Collector.
func (r *PrometheusRecorder) Collect(ch chan<- prometheus.Metric) {
	for _, c := range r.collectors() {
		c.Collect(ch)
	}
}

func (r *PrometheusRecorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{r.started, r.finished, r.active, r.duration, r.attempt}
}
