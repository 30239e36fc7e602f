// Package prometheus exposes authbridge engine metrics as a client_golang
// collector.
//
// [NewCollector] wraps an [authbridge.Engine]. Counter names are prefixed
// authbridge_*_total and the single histogram is
// authbridge_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the global default registry; callers choose one.
//   - Mutate engine state.
package prometheus
