// Package artifacts stores stage input and output files on local disk and
// indexes them as document file records. Saves are idempotent per
// (document, stage, filename) and land atomically via rename.
package artifacts
