// Package otel publishes authbridge engine metrics through an OpenTelemetry
// meter.
//
// Each authentication flow (login, refresh, session, migration,
// external_auth, gate, totp) is one Int64ObservableCounter named
// "authbridge.<flow>" with an "outcome" attribute. Validation latency is a
// cumulative bucket gauge keyed by "le", and audit delivery is reported as
// "authbridge.audit.events" by delivery result. A single callback reads the
// engine snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
