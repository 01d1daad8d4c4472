package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/queue"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
)

func TestDocumentDefaultsAndUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	doc, err := store.CreateDocument(ctx, queue.Document{ID: "doc-1", Title: "Manual"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Type != queue.DocumentTypeFile || doc.ProcessingMode != queue.ModeAutomatic {
		t.Fatalf("expected FILE/AUTOMATIC defaults, got %s/%s", doc.Type, doc.ProcessingMode)
	}
	if _, err := store.CreateDocument(ctx, queue.Document{ID: ""}); err == nil {
		t.Fatal("expected error for empty id")
	}

	current := stage.Chunker
	status := queue.StageStatusRunning
	if err := store.UpdateDocumentStage(ctx, "doc-1", queue.DocumentStageUpdate{CurrentStage: &current, StageStatus: &status}); err != nil {
		t.Fatalf("UpdateDocumentStage: %v", err)
	}
	if err := store.SetDocumentPaused(ctx, "doc-1", true); err != nil {
		t.Fatalf("SetDocumentPaused: %v", err)
	}
	if err := store.SetDocumentMode(ctx, "doc-1", queue.ModeManual); err != nil {
		t.Fatalf("SetDocumentMode: %v", err)
	}
	got, _ := store.GetDocument(ctx, "doc-1")
	if got.CurrentStage != stage.Chunker || got.StageStatus != queue.StageStatusRunning || !got.Paused || got.ProcessingMode != queue.ModeManual {
		t.Fatalf("unexpected document %+v", got)
	}

	if err := store.SetDocumentPaused(ctx, "missing", true); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if missing, err := store.GetDocument(ctx, "missing"); err != nil || missing != nil {
		t.Fatalf("expected nil document, got %+v err=%v", missing, err)
	}
}

func TestSchedulableDocumentsSkipsBlockedDocuments(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "ready", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "busy", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "paused", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "manual", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "failed", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "done", queue.DocumentTypeFile)

	testsupport.NewJob(t, store, "busy", stage.Conversion)
	store.SetDocumentPaused(ctx, "paused", true)
	store.SetDocumentMode(ctx, "manual", queue.ModeManual)
	failed := queue.StageStatusFailed
	store.UpdateDocumentStage(ctx, "failed", queue.DocumentStageUpdate{StageStatus: &failed})
	last, completed := stage.Ingestor, queue.StageStatusCompleted
	store.UpdateDocumentStage(ctx, "done", queue.DocumentStageUpdate{CurrentStage: &last, StageStatus: &completed})

	docs, err := store.SchedulableDocuments(ctx, 10)
	if err != nil {
		t.Fatalf("SchedulableDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "ready" {
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		t.Fatalf("expected only ready document, got %v", ids)
	}
}

func TestAddDocumentFileIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)

	file := queue.DocumentFile{DocumentID: "doc-1", Stage: stage.Conversion, Filename: "out.md", Path: "/tmp/out.md", Size: 12}
	first, created, err := store.AddDocumentFile(ctx, file)
	if err != nil || !created {
		t.Fatalf("AddDocumentFile: created=%v err=%v", created, err)
	}
	second, created, err := store.AddDocumentFile(ctx, file)
	if err != nil || created {
		t.Fatalf("repeat AddDocumentFile: created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same record, got %d and %d", first.ID, second.ID)
	}

	store.AddDocumentFile(ctx, queue.DocumentFile{DocumentID: "doc-1", Stage: stage.Source, Filename: "in.pdf"})
	all, err := store.ListDocumentFiles(ctx, "doc-1", "")
	if err != nil {
		t.Fatalf("ListDocumentFiles: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 files, got %d", len(all))
	}
	conv, _ := store.ListDocumentFiles(ctx, "doc-1", stage.Conversion)
	if len(conv) != 1 || conv[0].Size != 12 {
		t.Fatalf("expected conversion file, got %+v", conv)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)
	testsupport.CompleteStage(t, store, "doc-1", stage.Conversion, "a.md")

	ok, err := store.DeleteDocument(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("DeleteDocument: ok=%v err=%v", ok, err)
	}
	if got, _ := store.GetJob(ctx, job.ID); got != nil {
		t.Fatal("expected job removed with document")
	}
	if execs, _ := store.ListExecutions(ctx, "doc-1", 0); len(execs) != 0 {
		t.Fatalf("expected executions removed, got %d", len(execs))
	}
}

func TestExecutionsLatestWins(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	first, err := store.StartExecution(ctx, "doc-1", stage.Conversion, job.ID, []string{"in.pdf"})
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if ok, err := store.CompleteExecution(ctx, first.ID, []string{"v1.md"}, queue.ExecutionMetadata{ExecutionTimeSeconds: 3}); err != nil || !ok {
		t.Fatalf("CompleteExecution: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.CompleteExecution(ctx, first.ID, []string{"again.md"}, queue.ExecutionMetadata{}); ok {
		t.Fatal("completing a terminal execution must be a no-op")
	}

	clock.Advance(time.Minute)
	second, _ := store.StartExecution(ctx, "doc-1", stage.Conversion, 0, nil)
	if ok, err := store.FailExecution(ctx, second.ID, "broken"); err != nil || !ok {
		t.Fatalf("FailExecution: ok=%v err=%v", ok, err)
	}

	latest, err := store.LatestExecution(ctx, "doc-1", stage.Conversion)
	if err != nil {
		t.Fatalf("LatestExecution: %v", err)
	}
	if latest.ID != second.ID || latest.Eligible() {
		t.Fatalf("expected failed newest execution, got %+v", latest)
	}

	byStage, err := store.LatestExecutions(ctx, "doc-1")
	if err != nil {
		t.Fatalf("LatestExecutions: %v", err)
	}
	if byStage[stage.Conversion].ID != second.ID {
		t.Fatalf("expected newest execution per stage, got %d", byStage[stage.Conversion].ID)
	}

	forJob, _ := store.ExecutionForJob(ctx, job.ID)
	if forJob == nil || forJob.ID != first.ID {
		t.Fatalf("expected execution for job, got %+v", forJob)
	}
	if len(forJob.InputFiles) != 1 || forJob.OutputFiles[0] != "v1.md" || forJob.Metadata.ExecutionTimeSeconds != 3 {
		t.Fatalf("unexpected persisted execution %+v", forJob)
	}
}

func TestProcessingErrorsRecordAndResolve(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)

	rec, err := store.RecordError(ctx, queue.ProcessingError{
		JobID:       7,
		DocumentID:  "doc-1",
		Stage:       stage.Chunker,
		Category:    "NETWORK",
		Message:     "connection reset",
		IsRetryable: true,
	})
	if err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected assigned id")
	}
	store.RecordError(ctx, queue.ProcessingError{DocumentID: "doc-1", Stage: stage.Ingestor, Message: "??"})

	unresolved, _ := store.ListErrors(ctx, queue.ErrorFilter{UnresolvedOnly: true})
	if len(unresolved) != 2 {
		t.Fatalf("expected 2 unresolved errors, got %d", len(unresolved))
	}
	network, _ := store.ListErrors(ctx, queue.ErrorFilter{Category: "network"})
	if len(network) != 1 || !network[0].IsRetryable {
		t.Fatalf("expected retryable network error, got %+v", network)
	}
	unknown, _ := store.ListErrors(ctx, queue.ErrorFilter{Stage: stage.Ingestor})
	if len(unknown) != 1 || unknown[0].Category != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN default category, got %+v", unknown)
	}

	n, err := store.ResolveErrors(ctx, "doc-1", stage.Chunker)
	if err != nil || n != 1 {
		t.Fatalf("ResolveErrors: n=%d err=%v", n, err)
	}
	left, _ := store.ListErrors(ctx, queue.ErrorFilter{UnresolvedOnly: true})
	if len(left) != 1 || left[0].Stage != stage.Ingestor {
		t.Fatalf("expected only ingestor error unresolved, got %+v", left)
	}
}

func TestCleanupQueriesAndRetention(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "doc-2", queue.DocumentTypeFile)

	finishRemote := func(doc, task string) *queue.Job {
		t.Helper()
		job := testsupport.NewJob(t, store, doc, stage.Conversion)
		store.MarkAsProcessing(ctx, job.ID)
		store.MarkWaitingForRemote(ctx, job.ID, queue.RemoteTask{TaskID: task})
		store.CompleteJob(ctx, job.ID)
		return job
	}
	a := finishRemote("doc-1", "task-a")
	b := finishRemote("doc-2", "task-b")

	candidates, _ := store.JobsNeedingCleanup(ctx, clock.Now(), 10)
	if len(candidates) != 0 {
		t.Fatalf("expected grace period to hold back jobs, got %d", len(candidates))
	}

	clock.Advance(2 * time.Hour)
	candidates, err := store.JobsNeedingCleanup(ctx, clock.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("JobsNeedingCleanup: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 cleanup candidates, got %d", len(candidates))
	}

	if err := store.MarkCleanedUp(ctx, a.ID, queue.CleanupStats{FilesDeleted: 3, BytesFreed: 2048}); err != nil {
		t.Fatalf("MarkCleanedUp: %v", err)
	}
	if err := store.MarkCleanupAttempt(ctx, b.ID, clock.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("MarkCleanupAttempt: %v", err)
	}
	candidates, _ = store.JobsNeedingCleanup(ctx, clock.Now().Add(-time.Hour), 10)
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates after cleanup bookkeeping, got %d", len(candidates))
	}
	cleaned, _ := store.GetJob(ctx, a.ID)
	if !cleaned.CleanedUp || cleaned.CleanupStats.BytesFreed != 2048 {
		t.Fatalf("expected cleanup stats, got %+v", cleaned)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Finished != 2 {
		t.Fatalf("unexpected health %+v", health)
	}

	clock.Advance(31 * 24 * time.Hour)
	removed, err := store.CleanupCompletedJobs(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupCompletedJobs: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 jobs removed, got %d", removed)
	}
	if n, _ := store.CleanupCompletedJobs(ctx, 0); n != 0 {
		t.Fatalf("expected disabled retention to remove nothing, got %d", n)
	}
}
