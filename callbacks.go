package ojs

import "context"

// CallbackKind identifies which job outcome a callback runs for.
type CallbackKind string

const (
	CallbackSuccess CallbackKind = "success"
	CallbackFailure CallbackKind = "failure"
	CallbackStopped CallbackKind = "stopped"
)

// HookPoint returns the hook point that executes callbacks of this kind.
func (k CallbackKind) HookPoint() HookPoint {
	switch k {
	case CallbackSuccess:
		return HookSuccessCallback
	case CallbackFailure:
		return HookFailureCallback
	case CallbackStopped:
		return HookStoppedCallback
	}
	return ""
}

// CallbackFunc runs after a job finishes. cause is the handler error for
// failure callbacks, the context error for stopped callbacks, and nil on
// success.
//
// Callback errors are logged by the worker and do not change whether the
// job is acknowledged.
type CallbackFunc func(ctx context.Context, job *Job, cause error) error
