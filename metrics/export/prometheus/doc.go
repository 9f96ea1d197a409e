// Package prometheus renders sessionauth metrics in the Prometheus text
// exposition format.
//
// Counters are named sessionauth_*_total. The login latency histogram is
// sessionauth_login_latency_seconds and is only present when latency
// histograms are enabled.
//
// # What this package must NOT do
//
//   - Register with a global registry. Callers mount [Exporter.Handler].
//   - Mutate authenticator state.
package prometheus
