// Package metrics declares the Prometheus collectors exported by the
// media catalog server: HTTP request counters and latencies, database
// query and transaction timings, and reconciliation activity.
//
// All collectors are registered with the default registry via promauto
// at package load; the /metrics endpoint serves them with the standard
// promhttp handler.
package metrics
