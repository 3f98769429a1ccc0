// Package otel publishes engine metrics as OpenTelemetry observable
// instruments. The caller owns the MeterProvider; one callback reads the
// engine snapshot per collection.
//
// Counters map to Int64ObservableCounter. The submit latency histogram is
// published as a cumulative bucket gauge with an "le" attribute plus a
// count gauge, since observable histograms do not exist in the API.
package otel
