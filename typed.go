package ojs

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ArgsValidator is implemented by typed args that check themselves once
// decoded. A failed check fails the job without a retry.
type ArgsValidator interface {
	Validate() error
}

// TypedHandlerFunc is a handler that receives decoded arguments.
type TypedHandlerFunc[T any] func(ctx JobContext, args T) error

// ArgsOf encodes v as job args. v must encode to a JSON object, so T is
// usually a struct with json tags or a map.
func ArgsOf[T any](v T) (Args, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ojs: encode args from %T: %w", v, err)
	}
	var args Args
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("ojs: args from %T are not a JSON object: %w", v, err)
	}
	return args, nil
}

// DecodeArgs decodes args into T and runs its [ArgsValidator], if any.
func DecodeArgs[T any](args Args) (T, error) {
	var v T
	data, err := json.Marshal(args)
	if err != nil {
		return v, fmt.Errorf("ojs: decode args into %T: %w", v, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("ojs: decode args into %T: %w", v, err)
	}
	if val, ok := any(&v).(ArgsValidator); ok {
		if err := val.Validate(); err != nil {
			return v, fmt.Errorf("ojs: invalid args: %w", err)
		}
	}
	return v, nil
}

// RegisterTyped registers handler for jobType with args decoded by
// [DecodeArgs]. Args that do not decode or validate fail the job with a
// non-retryable error and the handler is not called.
//
// Example:
//
//	type EmailArgs struct {
//	    To string `json:"to"`
//	}
//
//	ojs.RegisterTyped(worker, "email.send", func(ctx ojs.JobContext, args EmailArgs) error {
//	    return send(ctx.Context(), args.To)
//	})
func RegisterTyped[T any](w *Worker, jobType string, handler TypedHandlerFunc[T]) {
	w.Register(jobType, func(ctx JobContext) error {
		args, err := DecodeArgs[T](ctx.Job.Args)
		if err != nil {
			return NonRetryable(fmt.Errorf("%s: %w", jobType, err))
		}
		return handler(ctx, args)
	})
}
