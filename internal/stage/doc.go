// Package stage defines the canonical document pipeline stages and their
// ordering.
package stage
