// Package notifications delivers orchestrator events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. Job
// failures and recovery actions are deduplicated per document stage within a
// configurable window so a flapping stage does not flood the topic.
package notifications
