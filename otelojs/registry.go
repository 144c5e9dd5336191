package otelojs

import (
	"go.opentelemetry.io/otel/trace"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// Role is the kind of SDK object a [Locator] finds.
type Role int

const (
	RoleJob Role = iota + 1
	RoleQueue
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleJob:
		return "job"
	case RoleQueue:
		return "queue"
	case RoleWorker:
		return "worker"
	}
	return "unknown"
}

// Locator says where in a hook call an object of Role is found: the
// receiver, or a named input falling back to a positional one.
type Locator struct {
	Role     Role
	Receiver bool
	Name     string
	Position int
}

// Receiver locates role as the receiver of the call.
func Receiver(role Role) Locator {
	return Locator{Role: role, Receiver: true, Position: -1}
}

// Arg locates role as the input called name, or at position when no such
// named input exists.
func Arg(role Role, name string, position int) Locator {
	return Locator{Role: role, Name: name, Position: position}
}

func (l Locator) find(call ojs.Call) any {
	if l.Receiver {
		return call.Receiver
	}
	if l.Name != "" {
		if v, ok := call.Named[l.Name]; ok && v != nil {
			return v
		}
	}
	return call.Arg(l.Position)
}

// resolve applies locators to call. A value of the wrong type is ignored.
func resolve(call ojs.Call, locators []Locator) resolved {
	var in resolved
	for _, l := range locators {
		v := l.find(call)
		switch l.Role {
		case RoleJob:
			if job, ok := v.(*ojs.Job); ok && job != nil && in.job == nil {
				in.job = job
			}
		case RoleQueue:
			if q, ok := v.(*ojs.Queue); ok && q != nil && in.queue == nil {
				in.queue = q
			}
		case RoleWorker:
			if w, ok := v.(*ojs.Worker); ok && w != nil && in.worker == nil {
				in.worker = w
			}
		}
	}
	return in
}

// Propagation is what a hook does with trace context in job meta.
type Propagation int

const (
	PropagateNone Propagation = iota
	// PropagateInject writes the new span's context into the job.
	PropagateInject
	// PropagateExtract parents the new span on the context read from the job.
	PropagateExtract
)

// HookSpec describes the span produced for one hook point.
type HookSpec struct {
	Point         ojs.HookPoint
	Kind          trace.SpanKind
	OperationType string
	OperationName string
	Propagation   Propagation
	// ForceFlush flushes the tracer provider after the span ends.
	ForceFlush bool
	// Callback, when set, skips the span entirely for jobs that have no
	// callback of this kind.
	Callback ojs.CallbackKind
	Locators []Locator
}

var registry = []HookSpec{
	{
		Point:         ojs.HookEnqueueJob,
		Kind:          trace.SpanKindProducer,
		OperationType: OperationSend,
		OperationName: "publish",
		Propagation:   PropagateInject,
		Locators:      []Locator{Receiver(RoleQueue), Arg(RoleJob, "job", 0)},
	},
	{
		Point:         ojs.HookScheduleJob,
		Kind:          trace.SpanKindProducer,
		OperationType: OperationCreate,
		OperationName: "schedule",
		Propagation:   PropagateInject,
		Locators:      []Locator{Receiver(RoleQueue), Arg(RoleJob, "job", 0)},
	},
	{
		Point:         ojs.HookPerformJob,
		Kind:          trace.SpanKindConsumer,
		OperationType: OperationProcess,
		OperationName: "consume",
		Propagation:   PropagateExtract,
		ForceFlush:    true,
		Locators: []Locator{
			Receiver(RoleWorker),
			Arg(RoleJob, "job", 0),
			Arg(RoleQueue, "queue", 1),
		},
	},
	{
		Point:         ojs.HookJobPerform,
		Kind:          trace.SpanKindClient,
		OperationType: OperationProcess,
		OperationName: "perform",
		Locators:      []Locator{Receiver(RoleJob)},
	},
	{
		Point:         ojs.HookSuccessCallback,
		Kind:          trace.SpanKindClient,
		OperationType: OperationProcess,
		OperationName: "success_callback",
		Callback:      ojs.CallbackSuccess,
		Locators:      []Locator{Receiver(RoleJob)},
	},
	{
		Point:         ojs.HookFailureCallback,
		Kind:          trace.SpanKindClient,
		OperationType: OperationProcess,
		OperationName: "failure_callback",
		Callback:      ojs.CallbackFailure,
		Locators:      []Locator{Receiver(RoleJob)},
	},
	{
		Point:         ojs.HookStoppedCallback,
		Kind:          trace.SpanKindClient,
		OperationType: OperationProcess,
		OperationName: "stopped_callback",
		Callback:      ojs.CallbackStopped,
		Locators:      []Locator{Receiver(RoleJob)},
	},
	{
		Point:         ojs.HookHandleJobSuccess,
		Kind:          trace.SpanKindClient,
		OperationType: OperationProcess,
		OperationName: "handle_job_success",
		Locators:      []Locator{Arg(RoleJob, "job", 0), Arg(RoleQueue, "queue", 1)},
	},
	{
		Point:         ojs.HookHandleJobFailure,
		Kind:          trace.SpanKindClient,
		OperationType: OperationProcess,
		OperationName: "handle_job_failure",
		Locators:      []Locator{Arg(RoleJob, "job", 0), Arg(RoleQueue, "queue", 1)},
	},
}

// Registry returns a copy of the hook specs the instrumentor installs, in
// installation order.
func Registry() []HookSpec {
	out := make([]HookSpec, len(registry))
	for i, spec := range registry {
		spec.Locators = append([]Locator(nil), spec.Locators...)
		out[i] = spec
	}
	return out
}
