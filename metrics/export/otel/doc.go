// Package otel publishes goVerify counters through an OpenTelemetry Meter.
//
// Each counter family is one Int64ObservableCounter and its series are told
// apart by an attribute (purpose, reason, result or outcome). Histogram
// buckets are a gauge keyed by an "le" attribute. One callback reads
// [goVerify.Engine.MetricsSnapshot] per collection.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
