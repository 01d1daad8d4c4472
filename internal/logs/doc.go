// Package logs reads the daemon log file for the CLI.
//
// Tail returns the last N lines or everything past a byte offset, optionally
// waiting for new lines to arrive, with bounded memory. Filter narrows JSON
// log entries to one document, job, stage or minimum level; lines that are
// not JSON pass only an empty filter.
package logs
