package ojs

import (
	"context"
	"errors"
	"testing"
)

func passThrough(ctx context.Context, call Call, next CallFunc) (any, error) {
	return next(ctx, call)
}

func TestHookPoints(t *testing.T) {
	points := HookPoints()
	if len(points) != 9 {
		t.Fatalf("expected 9 hook points, got %d", len(points))
	}
	for _, p := range points {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	points[0] = "mutated"
	if HookPoints()[0] != HookEnqueueJob {
		t.Error("HookPoints must return a copy")
	}
	if HookPoint("queue.delete").Valid() {
		t.Error("unknown hook point should not be valid")
	}
}

func TestHookTableInvokeWithoutInterceptor(t *testing.T) {
	table := NewHookTable()
	got, err := table.Invoke(context.Background(), HookEnqueueJob, Call{}, func(context.Context, Call) (any, error) {
		return "done", nil
	})
	if err != nil || got != "done" {
		t.Fatalf("Invoke() = %v, %v", got, err)
	}
}

func TestNilHookTableRunsDirectly(t *testing.T) {
	var table *HookTable
	got, err := table.Invoke(context.Background(), HookJobPerform, Call{}, func(context.Context, Call) (any, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Invoke() = %v, %v", got, err)
	}
}

func TestHookTableWrap(t *testing.T) {
	table := NewHookTable()
	type ctxKey struct{}

	var seen Call
	err := table.Wrap(HookPerformJob, func(ctx context.Context, call Call, next CallFunc) (any, error) {
		seen = call
		return next(context.WithValue(ctx, ctxKey{}, "wrapped"), call)
	})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if !table.Wrapped(HookPerformJob) {
		t.Fatal("expected hook to be wrapped")
	}

	call := Call{Receiver: "worker", Args: []any{"job"}}
	got, err := table.Invoke(context.Background(), HookPerformJob, call, func(ctx context.Context, _ Call) (any, error) {
		return ctx.Value(ctxKey{}), nil
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "wrapped" {
		t.Errorf("interceptor context not passed to the operation, got %v", got)
	}
	if seen.Receiver != "worker" || seen.Arg(0) != "job" {
		t.Errorf("interceptor saw %+v", seen)
	}
}

func TestHookTableWrapTwice(t *testing.T) {
	table := NewHookTable()
	if err := table.Wrap(HookEnqueueJob, passThrough); err != nil {
		t.Fatal(err)
	}
	err := table.Wrap(HookEnqueueJob, passThrough)
	if !errors.Is(err, ErrHookWrapped) {
		t.Fatalf("expected ErrHookWrapped, got %v", err)
	}
}

func TestHookTableWrapInvalid(t *testing.T) {
	table := NewHookTable()
	if err := table.Wrap("queue.delete", passThrough); !errors.Is(err, ErrUnknownHook) {
		t.Errorf("expected ErrUnknownHook, got %v", err)
	}
	if err := table.Wrap(HookEnqueueJob, nil); err == nil {
		t.Error("expected error for nil interceptor")
	}
}

func TestHookTableUnwrap(t *testing.T) {
	table := NewHookTable()
	if table.Unwrap(HookEnqueueJob) {
		t.Error("Unwrap of an empty point should report false")
	}
	if err := table.Wrap(HookEnqueueJob, func(context.Context, Call, CallFunc) (any, error) {
		return "intercepted", nil
	}); err != nil {
		t.Fatal(err)
	}
	if !table.Unwrap(HookEnqueueJob) {
		t.Error("Unwrap should report true")
	}
	got, _ := table.Invoke(context.Background(), HookEnqueueJob, Call{}, func(context.Context, Call) (any, error) {
		return "original", nil
	})
	if got != "original" {
		t.Errorf("expected original operation after Unwrap, got %v", got)
	}
	if err := table.Wrap(HookEnqueueJob, passThrough); err != nil {
		t.Errorf("re-wrap after Unwrap failed: %v", err)
	}
}

func TestHookTableErrorPassesThrough(t *testing.T) {
	table := NewHookTable()
	if err := table.Wrap(HookJobPerform, passThrough); err != nil {
		t.Fatal(err)
	}
	want := errors.New("boom")
	_, err := table.Invoke(context.Background(), HookJobPerform, Call{}, func(context.Context, Call) (any, error) {
		return nil, want
	})
	if err != want {
		t.Errorf("expected the original error, got %v", err)
	}
}

func TestCallArg(t *testing.T) {
	call := Call{Args: []any{"a", "b"}}
	if call.Arg(1) != "b" {
		t.Errorf("Arg(1) = %v", call.Arg(1))
	}
	if call.Arg(2) != nil || call.Arg(-1) != nil {
		t.Error("out of range Arg should be nil")
	}
}

func TestCallbackKindHookPoint(t *testing.T) {
	tests := map[CallbackKind]HookPoint{
		CallbackSuccess:       HookSuccessCallback,
		CallbackFailure:       HookFailureCallback,
		CallbackStopped:       HookStoppedCallback,
		CallbackKind("other"): "",
	}
	for kind, want := range tests {
		if got := kind.HookPoint(); got != want {
			t.Errorf("%s.HookPoint() = %q, want %q", kind, got, want)
		}
	}
}
