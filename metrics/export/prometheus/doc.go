// Package prometheus publishes engine metrics through client_golang.
//
// The Exporter is a prometheus.Collector that reads an engine snapshot on
// every scrape. Register it with any registry, or use Handler for a
// self-contained /metrics endpoint.
package prometheus
