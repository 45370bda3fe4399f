// Package middleware provides composable middleware around batch
// processing runs.
//
// A [Middleware] wraps the handler that takes a claimed batch through
// detection, deduplication and delivery. Middleware are composed into a
// chain using [Chain]; the first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs the session id, status and duration of each run
//   - [Recover] catches panics and converts them to errors
//   - [Timeout] cancels the run context after a configured duration
//   - [Tracing] wraps the run in an OpenTelemetry span
//   - [Metrics] records per-run duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
