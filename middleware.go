package ojs

// HandlerFunc is a function that processes a job.
type HandlerFunc func(JobContext) error

// MiddlewareFunc is a function that wraps a HandlerFunc with cross-cutting concerns.
// It follows the standard Go middleware pattern (onion model).
//
// Example:
//
//	func auditMiddleware(ctx ojs.JobContext, next ojs.HandlerFunc) error {
//	    audit.Record(ctx.Context(), ctx.Job.Type)
//	    return next(ctx)
//	}
type MiddlewareFunc func(ctx JobContext, next HandlerFunc) error

type namedMiddleware struct {
	name string
	fn   MiddlewareFunc
}

// middlewareChain holds an ordered list of middleware. The first entry is
// the outermost layer.
type middlewareChain struct {
	middleware []namedMiddleware
}

func (c *middlewareChain) add(name string, fn MiddlewareFunc) {
	c.middleware = append(c.middleware, namedMiddleware{name: name, fn: fn})
}

func (c *middlewareChain) prepend(name string, fn MiddlewareFunc) {
	c.middleware = append([]namedMiddleware{{name: name, fn: fn}}, c.middleware...)
}

func (c *middlewareChain) remove(name string) bool {
	for i, m := range c.middleware {
		if m.name == name {
			c.middleware = append(c.middleware[:i], c.middleware[i+1:]...)
			return true
		}
	}
	return false
}

func (c *middlewareChain) names() []string {
	out := make([]string, len(c.middleware))
	for i, m := range c.middleware {
		out[i] = m.name
	}
	return out
}

// then wraps handler with the chain, innermost last.
func (c *middlewareChain) then(handler HandlerFunc) HandlerFunc {
	h := handler
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i].fn
		next := h
		h = func(ctx JobContext) error {
			return mw(ctx, next)
		}
	}
	return h
}
