// Package remote is the HTTP client for the remote stage worker.
//
// The worker accepts stage submissions, answers either inline or with a task
// id, and exposes task status, output files and cleanup. Errors carry
// services markers so failure categorisation can tell a refused connection
// from a rejected request.
package remote
