// Package ojstesting provides test utilities for OJS applications: an
// in-memory broker, an OJS HTTP server backed by it, assertion helpers and
// a span recorder for tracing tests.
//
// # Fake Mode
//
// Use [Fake] to activate an in-memory broker for the test and [FakeClient]
// to get a real [ojs.Client] that enqueues onto it:
//
//	func TestSignup(t *testing.T) {
//	    _ = ojstesting.Fake(t)
//	    client := ojstesting.FakeClient(t)
//	    signupService(client, "user@example.com")
//	    ojstesting.AssertEnqueued(t, "email.send",
//	        ojstesting.MatchArgs(ojs.Args{"to": "user@example.com"}),
//	    )
//	}
package ojstesting

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// MatchOption is a functional option for matching enqueued jobs.
type MatchOption func(*matchCriteria)

type matchCriteria struct {
	args  ojs.Args
	queue string
	meta  map[string]any
	count int // 0 means "at least 1"
}

// MatchArgs requires the job args to equal args once encoded.
func MatchArgs(args ojs.Args) MatchOption {
	return func(c *matchCriteria) { c.args = args }
}

// MatchQueue requires the job to be in the given queue.
func MatchQueue(queue string) MatchOption {
	return func(c *matchCriteria) { c.queue = queue }
}

// MatchMeta requires the job meta to contain the given keys (partial match).
func MatchMeta(meta map[string]any) MatchOption {
	return func(c *matchCriteria) { c.meta = meta }
}

// MatchCount requires exactly n matching jobs.
func MatchCount(n int) MatchOption {
	return func(c *matchCriteria) { c.count = n }
}

var (
	activeBroker *Broker
	brokerMu     sync.Mutex
)

// Fake activates fake mode for the given test and returns its broker. The
// broker is deactivated when the test finishes.
func Fake(t testing.TB, opts ...BrokerOption) *Broker {
	t.Helper()
	b := NewBroker(opts...)

	brokerMu.Lock()
	activeBroker = b
	brokerMu.Unlock()

	t.Cleanup(func() {
		brokerMu.Lock()
		if activeBroker == b {
			activeBroker = nil
		}
		brokerMu.Unlock()
	})
	return b
}

// FakeClient creates an [ojs.Client] that enqueues onto the active fake
// broker. It must be called after [Fake].
func FakeClient(t testing.TB, opts ...ojs.ClientOption) *ojs.Client {
	t.Helper()
	client, err := ojs.NewClient(mustBroker(t), opts...)
	if err != nil {
		t.Fatalf("ojstesting: FakeClient: %v", err)
	}
	return client
}

// FakeWorker creates an [ojs.Worker] that performs jobs from the active
// fake broker. It must be called after [Fake].
func FakeWorker(t testing.TB, opts ...ojs.WorkerOption) *ojs.Worker {
	t.Helper()
	w, err := ojs.NewWorker(mustBroker(t), opts...)
	if err != nil {
		t.Fatalf("ojstesting: FakeWorker: %v", err)
	}
	return w
}

// AssertEnqueued asserts that at least one job of the given type was enqueued.
func AssertEnqueued(t testing.TB, jobType string, opts ...MatchOption) {
	t.Helper()
	b := mustBroker(t)
	criteria := buildCriteria(opts)
	all := b.Enqueued()
	matches := filterJobs(all, jobType, criteria)

	if criteria.count > 0 {
		if len(matches) != criteria.count {
			t.Errorf("AssertEnqueued: expected %d job(s) of type %q, found %d%s",
				criteria.count, jobType, len(matches), describeJobs(all))
		}
	} else if len(matches) == 0 {
		t.Errorf("AssertEnqueued: expected at least one job of type %q, found none%s",
			jobType, describeJobs(all))
	}
}

// RefuteEnqueued asserts that NO job of the given type was enqueued.
func RefuteEnqueued(t testing.TB, jobType string, opts ...MatchOption) {
	t.Helper()
	b := mustBroker(t)
	matches := filterJobs(b.Enqueued(), jobType, buildCriteria(opts))
	if len(matches) > 0 {
		t.Errorf("RefuteEnqueued: expected no jobs of type %q, found %d", jobType, len(matches))
	}
}

// AssertPerformed asserts that at least one job of the given type finished,
// successfully or not.
func AssertPerformed(t testing.TB, jobType string, opts ...MatchOption) {
	t.Helper()
	b := mustBroker(t)
	var finished []ojs.Job
	for _, state := range []ojs.JobState{ojs.JobStateCompleted, ojs.JobStateRetryable, ojs.JobStateDiscarded} {
		for _, j := range b.InState(state) {
			finished = append(finished, *j)
		}
	}
	if len(filterJobs(finished, jobType, buildCriteria(opts))) == 0 {
		t.Errorf("AssertPerformed: expected at least one performed job of type %q, found none", jobType)
	}
}

// AllEnqueued returns all enqueued jobs, optionally filtered by type.
func AllEnqueued(t testing.TB, jobType ...string) []ojs.Job {
	t.Helper()
	all := mustBroker(t).Enqueued()
	if len(jobType) == 0 {
		return all
	}
	var result []ojs.Job
	for _, j := range all {
		if j.Type == jobType[0] {
			result = append(result, j)
		}
	}
	return result
}

func mustBroker(t testing.TB) *Broker {
	t.Helper()
	brokerMu.Lock()
	b := activeBroker
	brokerMu.Unlock()
	if b == nil {
		t.Fatal("ojstesting: not in fake mode. Call ojstesting.Fake(t) first.")
	}
	return b
}

func buildCriteria(opts []MatchOption) matchCriteria {
	var c matchCriteria
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func filterJobs(jobs []ojs.Job, jobType string, c matchCriteria) []ojs.Job {
	var result []ojs.Job
	for _, j := range jobs {
		if j.Type != jobType {
			continue
		}
		if c.queue != "" && j.Queue != c.queue {
			continue
		}
		if c.args != nil && !jsonEqual(j.Args, c.args) {
			continue
		}
		if c.meta != nil && !metaContains(j.Meta, c.meta) {
			continue
		}
		result = append(result, j)
	}
	return result
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(aj) == string(bj)
}

func metaContains(actual, expected map[string]any) bool {
	for k, v := range expected {
		if !jsonEqual(actual[k], v) {
			return false
		}
	}
	return true
}

func describeJobs(jobs []ojs.Job) string {
	if len(jobs) == 0 {
		return "\n  No jobs were enqueued at all."
	}
	types := make(map[string]int)
	for _, j := range jobs {
		types[j.Type]++
	}
	parts := make([]string, 0, len(types))
	for typ, n := range types {
		parts = append(parts, fmt.Sprintf("%s (%d)", typ, n))
	}
	sort.Strings(parts)
	return "\n  Enqueued: " + strings.Join(parts, ", ")
}
