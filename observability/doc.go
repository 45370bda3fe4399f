// Package observability provides a Prometheus metrics extension for
// kegsync. The MetricsExtension implements lifecycle hooks to record
// station-wide counters for captures, deliveries, failures, duplicates,
// attention flags, retry exhaustion and network reachability.
//
// For per-run tracing and OTel metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
