// Package middleware provides composable middleware for chunk execution.
//
// A [Middleware] is a function that wraps a chunk handler. Middleware
// are composed into a chain using [Chain] and applied around each
// executor call. They are applied right-to-left: the first middleware
// in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs chunk identity, duration, and outcome at each execution
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the chunk context after a configured duration
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-chunk duration and outcome counters
//   - [Scope]: injects the owning tenant's scope into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, c *syncjob.Chunk, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
