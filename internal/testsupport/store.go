package testsupport

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/queue"
	"docflow/internal/stage"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDocument creates an AUTOMATIC document of the given type.
func NewDocument(t testing.TB, store *queue.Store, id string, docType queue.DocumentType) *queue.Document {
	t.Helper()

	doc, err := store.CreateDocument(context.Background(), queue.Document{
		ID:             id,
		Title:          "Test " + id,
		Type:           docType,
		ProcessingMode: queue.ModeAutomatic,
	})
	if err != nil {
		t.Fatalf("store.CreateDocument: %v", err)
	}
	return doc
}

// NewJob creates a PENDING job and fails the test when it was deduplicated.
func NewJob(t testing.TB, store *queue.Store, documentID string, st stage.Stage) *queue.Job {
	t.Helper()

	job, created, err := store.CreateJob(context.Background(), queue.NewJob{DocumentID: documentID, Stage: st})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	if !created {
		t.Fatalf("expected new job for %s/%s, got existing %d", documentID, st, job.ID)
	}
	return job
}

// CompleteStage records a COMPLETED execution with outputs for (document, stage).
func CompleteStage(t testing.TB, store *queue.Store, documentID string, st stage.Stage, outputs ...string) *queue.Execution {
	t.Helper()

	ctx := context.Background()
	exec, err := store.StartExecution(ctx, documentID, st, 0, nil)
	if err != nil {
		t.Fatalf("store.StartExecution: %v", err)
	}
	if _, err := store.CompleteExecution(ctx, exec.ID, outputs, queue.ExecutionMetadata{}); err != nil {
		t.Fatalf("store.CompleteExecution: %v", err)
	}
	return exec
}
