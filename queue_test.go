package ojs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewQueue(t *testing.T) {
	if _, err := NewQueue("default", nil, nil); !errors.Is(err, ErrNoBroker) {
		t.Errorf("expected ErrNoBroker, got %v", err)
	}
	if _, err := NewQueue("Bad Name", newFakeBroker(), nil); err == nil {
		t.Error("expected error for invalid queue name")
	}

	q, err := NewQueue("orders", newFakeBroker(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if q.hooks != DefaultHooks {
		t.Error("nil hooks should mean DefaultHooks")
	}
	if q.String() != "orders" {
		t.Errorf("String() = %q", q.String())
	}
}

func TestQueueEnqueueJobOverridesQueue(t *testing.T) {
	b := newFakeBroker()
	q, err := NewQueue("orders", b, NewHookTable())
	if err != nil {
		t.Fatal(err)
	}

	job := &Job{Type: "order.ship", Queue: "elsewhere"}
	if err := q.EnqueueJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if job.Queue != "orders" {
		t.Errorf("expected job on orders, got %s", job.Queue)
	}
	if job.ID == "" {
		t.Error("broker should assign an ID")
	}
}

func TestQueueScheduleJob(t *testing.T) {
	b := newFakeBroker()
	hooks := NewHookTable()
	q, err := NewQueue("orders", b, hooks)
	if err != nil {
		t.Fatal(err)
	}

	var seen Call
	if err := hooks.Wrap(HookScheduleJob, func(ctx context.Context, call Call, next CallFunc) (any, error) {
		seen = call
		return next(ctx, call)
	}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	job := &Job{ID: "j-1", Type: "order.ship"}
	if err := q.ScheduleJob(context.Background(), job, at); err != nil {
		t.Fatal(err)
	}
	if job.ScheduledAt == nil || !job.ScheduledAt.Equal(at) {
		t.Errorf("ScheduledAt = %v", job.ScheduledAt)
	}
	if job.State != JobStateScheduled {
		t.Errorf("state = %s", job.State)
	}
	if seen.Receiver != q || seen.Arg(0) != job || seen.Arg(1) != at {
		t.Errorf("hook saw %+v", seen)
	}
}

func TestQueueScheduleJobError(t *testing.T) {
	b := newFakeBroker()
	b.pushErr = ErrBackend
	q, _ := NewQueue("orders", b, NewHookTable())

	err := q.ScheduleJob(context.Background(), &Job{Type: "order.ship"}, time.Now())
	if !errors.Is(err, ErrBackend) {
		t.Errorf("expected ErrBackend, got %v", err)
	}
}
