// Package prometheus renders goVerify metrics in Prometheus text exposition format.
//
// Counters are grouped into labeled families, for example
//
//	goverify_tokens_issued_total{purpose="login_otp"} 3
//	goverify_authorize_total{result="failure"} 1
//
// The Authorize latency histogram, goverify_authorize_duration_seconds, appears
// only when latency histograms are enabled. The server mounts
// [PrometheusExporter.Handler] at /metrics.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
