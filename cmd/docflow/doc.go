// Command docflow is the operator CLI for the docflow orchestrator.
//
// It works directly against the job store, so every command is available
// whether or not docflowd is running: documents are registered and paused,
// jobs are listed, triggered, retried and cancelled, and the error audit
// trail can be inspected, resolved or exported to a spreadsheet. Changes are
// picked up by the daemon's workers on their next tick.
package main
