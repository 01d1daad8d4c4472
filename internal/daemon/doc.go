// Package daemon coordinates the long-running docflow process.
//
// It wires configuration, the job store, the workflow manager and the HTTP
// surface into a single lifecycle with flock-based locking to prevent two
// orchestrators from driving the same database. The HTTP surface carries the
// operator API, the remote worker webhook receiver, Prometheus metrics and a
// liveness probe.
//
// Keep orchestration logic here: stage processing lives in workflow while the
// daemon focuses on startup, shutdown and status reporting.
package daemon
