package ojs

import (
	"context"
	"fmt"
	"sync"
)

// HookPoint names a lifecycle call site that the SDK routes through a
// [HookTable]. Instrumentation packages wrap hook points to observe jobs
// without the SDK depending on them.
type HookPoint string

const (
	HookEnqueueJob       HookPoint = "queue.enqueue_job"
	HookScheduleJob      HookPoint = "queue.schedule_job"
	HookPerformJob       HookPoint = "worker.perform_job"
	HookJobPerform       HookPoint = "job.perform"
	HookSuccessCallback  HookPoint = "job.execute_success_callback"
	HookFailureCallback  HookPoint = "job.execute_failure_callback"
	HookStoppedCallback  HookPoint = "job.execute_stopped_callback"
	HookHandleJobSuccess HookPoint = "worker.handle_job_success"
	HookHandleJobFailure HookPoint = "worker.handle_job_failure"
)

var hookPoints = []HookPoint{
	HookEnqueueJob,
	HookScheduleJob,
	HookPerformJob,
	HookJobPerform,
	HookSuccessCallback,
	HookFailureCallback,
	HookStoppedCallback,
	HookHandleJobSuccess,
	HookHandleJobFailure,
}

// HookPoints returns every hook point the SDK invokes, in lifecycle order.
func HookPoints() []HookPoint {
	out := make([]HookPoint, len(hookPoints))
	copy(out, hookPoints)
	return out
}

// Valid reports whether p is a hook point the SDK invokes.
func (p HookPoint) Valid() bool {
	for _, hp := range hookPoints {
		if hp == p {
			return true
		}
	}
	return false
}

// Call describes the inputs of a single hook invocation.
//
// Receiver is the object the operation belongs to (a *Queue, *Worker or
// *Job). Args holds positional inputs and Named holds inputs passed by
// name; either may be empty.
type Call struct {
	Receiver any
	Args     []any
	Named    map[string]any
}

// Arg returns the positional argument at i, or nil when out of range.
func (c Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// CallFunc is the original operation behind a hook point.
type CallFunc func(ctx context.Context, call Call) (any, error)

// Interceptor wraps a hook point. It must call next exactly once to run the
// original operation, or not at all to skip it, and should return next's
// result unchanged.
type Interceptor func(ctx context.Context, call Call, next CallFunc) (any, error)

// HookTable holds at most one interceptor per hook point.
// It is safe for concurrent use.
type HookTable struct {
	mu           sync.RWMutex
	interceptors map[HookPoint]Interceptor
}

// NewHookTable returns an empty hook table.
func NewHookTable() *HookTable {
	return &HookTable{interceptors: make(map[HookPoint]Interceptor)}
}

// DefaultHooks is the hook table used by clients and workers that are not
// given one explicitly with [WithClientHooks] or [WithHooks].
var DefaultHooks = NewHookTable()

// Wrap installs ic at point. It fails with [ErrHookWrapped] when point is
// already wrapped and with [ErrUnknownHook] for an unknown point.
func (t *HookTable) Wrap(point HookPoint, ic Interceptor) error {
	if !point.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownHook, point)
	}
	if ic == nil {
		return fmt.Errorf("ojs: nil interceptor for %s", point)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.interceptors[point]; ok {
		return fmt.Errorf("%w: %s", ErrHookWrapped, point)
	}
	t.interceptors[point] = ic
	return nil
}

// Unwrap removes the interceptor at point and reports whether one was
// installed.
func (t *HookTable) Unwrap(point HookPoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.interceptors[point]; !ok {
		return false
	}
	delete(t.interceptors, point)
	return true
}

// Wrapped reports whether point currently has an interceptor.
func (t *HookTable) Wrapped(point HookPoint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.interceptors[point]
	return ok
}

// Invoke runs fn through the interceptor installed at point, or directly
// when none is installed. A nil table runs fn directly.
func (t *HookTable) Invoke(ctx context.Context, point HookPoint, call Call, fn CallFunc) (any, error) {
	if t == nil {
		return fn(ctx, call)
	}
	t.mu.RLock()
	ic := t.interceptors[point]
	t.mu.RUnlock()
	if ic == nil {
		return fn(ctx, call)
	}
	return ic(ctx, call, fn)
}
