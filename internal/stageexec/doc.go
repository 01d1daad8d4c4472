// Package stageexec tracks stage executions for documents.
//
// Every attempt at a stage is an execution row; the most recent one per
// (document, stage) is authoritative. A stage counts as done for dependency
// purposes only when that execution COMPLETED with at least one output file.
// The Tracker also keeps the document's current stage and stage status in
// step with executions.
package stageexec
