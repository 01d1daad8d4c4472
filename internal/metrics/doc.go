// Package metrics exposes orchestrator counters and histograms to Prometheus.
//
// Workers record job lifecycle events, recovery actions and tick durations
// through a *Metrics value; the API server mounts Handler at /metrics.
package metrics
