package ojs

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for a job type, queue or callback name that
// brokers cannot store. Queue names end up in Redis keys and lmstfy URLs,
// so the character set is narrow.
var ErrInvalidName = errors.New("ojs: invalid name")

type nameRule struct {
	what    string
	max     int
	pattern *regexp.Regexp
}

var (
	dottedName = regexp.MustCompile(`^[a-z][a-z0-9_\-]*(\.[a-z][a-z0-9_\-]*)*$`)

	jobTypeRule  = nameRule{what: "job type", max: 255, pattern: dottedName}
	callbackRule = nameRule{what: "callback", max: 255, pattern: dottedName}
	queueRule    = nameRule{what: "queue name", max: 128, pattern: regexp.MustCompile(`^[a-z0-9][a-z0-9_\-\.]*$`)}
)

func (r nameRule) check(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: %s is required", ErrInvalidName, r.what)
	case len(name) > r.max:
		return fmt.Errorf("%w: %s is %d bytes long, the limit is %d", ErrInvalidName, r.what, len(name), r.max)
	case !r.pattern.MatchString(name):
		return fmt.Errorf("%w: %s %q does not match %s", ErrInvalidName, r.what, name, r.pattern)
	}
	return nil
}

func validateJobType(jobType string) error { return jobTypeRule.check(jobType) }

func validateQueue(queue string) error { return queueRule.check(queue) }

// validateCallbacks checks the callback names set on an enqueue request.
// Callbacks are optional; a set one must be a dotted name like a job type.
func (c enqueueConfig) validateCallbacks() error {
	for _, cb := range []struct {
		kind CallbackKind
		name string
	}{
		{CallbackSuccess, c.onSuccess},
		{CallbackFailure, c.onFailure},
		{CallbackStopped, c.onStopped},
	} {
		if cb.name == "" {
			continue
		}
		if err := callbackRule.check(cb.name); err != nil {
			return fmt.Errorf("on_%s: %w", cb.kind, err)
		}
	}
	return nil
}
