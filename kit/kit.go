// Package kit holds the transport-agnostic service plumbing: the Endpoint
// abstraction, middleware chaining, request-scoped context values, and the
// MCP tool adapter. Facade handlers are written once as Endpoints and bound
// to HTTP and MCP without duplication.
package kit

import "context"

// Endpoint is a single command: typed request in, typed response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares so the first argument is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
