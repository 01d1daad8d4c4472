// Package handlers turns a stage job into a remote worker submission.
//
// Dispatch is closed over the three document types. FILE documents start from
// uploaded SOURCE files; MEDIA and WEB documents start from a source URL
// recovered from job metadata or the SOURCE file records. Later stages always
// consume the previous stage's stored outputs.
package handlers
