package otelojs

import (
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ojs "github.com/openjobspec/ojs-otel-go"
)

// MessagingSystem is the value of messaging.system on every span.
const MessagingSystem = "ojs"

// Attribute keys set on job spans.
const (
	MessagingSystemKey        = attribute.Key("messaging.system")
	MessagingClientIDKey      = attribute.Key("messaging.client_id")
	MessagingOperationTypeKey = attribute.Key("messaging.operation.type")
	MessagingOperationNameKey = attribute.Key("messaging.operation.name")
	MessagingDestinationKey   = attribute.Key("messaging.destination.name")
	MessagingConsumerGroupKey = attribute.Key("messaging.consumer.group.name")
	JobIDKey                  = attribute.Key("ojs.job.id")
	JobTypeKey                = attribute.Key("ojs.job.type")
)

// Values of messaging.operation.type.
const (
	OperationSend    = "send"
	OperationCreate  = "create"
	OperationProcess = "process"
)

// resolved holds the SDK objects found in a hook call. Any of them may be nil.
type resolved struct {
	job    *ojs.Job
	queue  *ojs.Queue
	worker *ojs.Worker
}

// baseAttributes are shared by every span of an instrumentor.
func baseAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{MessagingSystemKey.String(MessagingSystem)}
	if host, err := os.Hostname(); err == nil && host != "" {
		attrs = append(attrs, MessagingClientIDKey.String(host))
	}
	return attrs
}

// extractAttributes derives span attributes from the objects of a call.
// The consumer group is only reported on consumer spans; the worker's own
// name is written after the job's worker name and wins when both exist.
func extractAttributes(kind trace.SpanKind, in resolved) []attribute.KeyValue {
	var attrs []attribute.KeyValue

	if in.job != nil {
		attrs = append(attrs,
			JobIDKey.String(in.job.ID),
			JobTypeKey.String(in.job.Type),
		)
		if in.job.WorkerName != "" && kind == trace.SpanKindConsumer {
			attrs = append(attrs, MessagingConsumerGroupKey.String(in.job.WorkerName))
		}
	}

	if in.queue != nil {
		attrs = append(attrs, MessagingDestinationKey.String(in.queue.Name))
	}

	if in.worker != nil && kind == trace.SpanKindConsumer {
		attrs = append(attrs, MessagingConsumerGroupKey.String(in.worker.Name()))
	}

	return attrs
}

// spanName returns "op target", or op alone when target is not a non-empty
// string.
func spanName(op string, target any) string {
	if s, ok := target.(string); ok && s != "" {
		return op + " " + s
	}
	return op
}
