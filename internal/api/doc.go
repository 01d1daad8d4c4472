// Package api defines the wire-format types of the daemon's HTTP surface and
// the converters that produce them from queue and workflow models.
//
// # Key Types
//
// Job: transport representation of a processing job with progress, remote
// task and cleanup details.
//
// WorkflowStatus: manager running state, job counts per status and the last
// observed state of every worker.
//
// DaemonStatus: aggregated runtime information including preflight checks.
//
// Pipeline: per-stage progress of one document.
//
// StageCallback: the inbound webhook payload posted by the remote worker,
// validated against an embedded JSON schema before it is decoded.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as their stored upper-case
// strings. Timestamps use RFC3339 with milliseconds.
package api
