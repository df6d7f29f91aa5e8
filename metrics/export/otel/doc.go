// Package otel exports atlasauth engine metrics through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter. Each
// latency histogram becomes a cumulative _bucket gauge with one point per
// upper bound, keyed by the "le" attribute, plus a _count gauge. A single
// callback reads the engine snapshot on each collection cycle, so disabled
// metrics are never observed.
//
// The caller owns the MeterProvider. The exporter never mutates engine state.
package otel
