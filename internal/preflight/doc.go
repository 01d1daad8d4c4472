// Package preflight provides readiness checks for the filesystem paths and
// external services that docflow depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll before starting the workflow workers and again
//     for every status request, so operators see degraded dependencies.
//   - The CLI "docflow health" command renders the same results locally
//     when the daemon is not running.
//
// A failing check never blocks startup: the workers keep retrying and the
// failure surfaces through status and health output instead.
package preflight
