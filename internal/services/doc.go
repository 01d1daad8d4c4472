// Package services defines shared utilities consumed by the orchestrator
// workers and the remote worker client.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, document IDs, stage names, worker
//     names and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     categorized consistently further up the stack.
//
// Use these helpers when wiring new worker logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
