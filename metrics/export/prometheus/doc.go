// Package prometheus exposes atlasauth engine metrics through
// client_golang.
//
// [PrometheusExporter] implements prometheus.Collector: counters are
// exported as atlasauth_*_total and password verification latency as the
// histogram atlasauth_password_verify_seconds. Values are read from
// Engine.MetricsSnapshot at scrape time; nothing is registered globally.
package prometheus
