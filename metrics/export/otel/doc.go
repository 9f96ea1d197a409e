// Package otel publishes sessionauth metrics through an OpenTelemetry
// Meter.
//
// [New] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per login latency bucket. One callback reads
// [sessionauth.Authenticator.MetricsSnapshot] on every collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate authenticator state.
package otel
