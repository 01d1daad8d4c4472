package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"docflow/internal/queue"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*queue.Store, *testsupport.Clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := testsupport.NewClock(testEpoch)
	store.SetClock(clock.Now)
	return store, clock
}

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Driver() != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", store.Driver())
	}
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	doc, err := reopened.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc == nil || doc.Type != queue.DocumentTypeFile {
		t.Fatalf("expected persisted document, got %+v", doc)
	}
}

func TestCreateJobReturnsExistingActiveJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)

	first, created, err := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Conversion})
	if err != nil || !created {
		t.Fatalf("first CreateJob: created=%v err=%v", created, err)
	}
	second, created, err := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Conversion})
	if err != nil {
		t.Fatalf("second CreateJob: %v", err)
	}
	if created {
		t.Fatal("expected duplicate create to be deduplicated")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing job %d, got %d", first.ID, second.ID)
	}

	other, created, err := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Optimizer})
	if err != nil || !created {
		t.Fatalf("other stage CreateJob: created=%v err=%v", created, err)
	}
	if other.ID == first.ID {
		t.Fatal("expected distinct job for a different stage")
	}
}

func TestCreateJobAllowsNewJobAfterTerminal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	if ok, err := store.CancelJob(ctx, job.ID, "operator"); err != nil || !ok {
		t.Fatalf("CancelJob: ok=%v err=%v", ok, err)
	}
	next, created, err := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Conversion})
	if err != nil || !created {
		t.Fatalf("CreateJob after cancel: created=%v err=%v", created, err)
	}
	if next.ID == job.ID {
		t.Fatal("expected a fresh job id")
	}
}

func TestCreateJobConcurrentCreatorsShareOneJob(t *testing.T) {
	store, _ := newTestStore(t)
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[int64]struct{})
		created int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, ok, err := store.CreateJob(context.Background(), queue.NewJob{DocumentID: "doc-1", Stage: stage.Chunker})
			if err != nil {
				t.Errorf("CreateJob: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[job.ID] = struct{}{}
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
	if len(ids) != 1 {
		t.Fatalf("expected all callers to see one job, got %d ids", len(ids))
	}
}

func TestCreateJobRejectsInvalidInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if _, _, err := store.CreateJob(ctx, queue.NewJob{DocumentID: " ", Stage: stage.Conversion}); err == nil {
		t.Fatal("expected error for empty document id")
	}
	if _, _, err := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Stage("BOGUS")}); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestPendingJobsOrdersByPriorityThenSchedule(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		testsupport.NewDocument(t, store, id, queue.DocumentTypeFile)
	}

	mustCreate := func(doc string, priority int, scheduled time.Time) *queue.Job {
		t.Helper()
		job, _, err := store.CreateJob(ctx, queue.NewJob{DocumentID: doc, Stage: stage.Conversion, Priority: priority, ScheduledAt: scheduled})
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		return job
	}
	now := clock.Now()
	older := mustCreate("a", 0, now.Add(-2*time.Minute))
	newer := mustCreate("b", 0, now.Add(-1*time.Minute))
	urgent := mustCreate("c", 5, now)
	mustCreate("d", 9, now.Add(time.Hour))

	jobs, err := store.PendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("PendingJobs: %v", err)
	}
	want := []int64{urgent.ID, older.ID, newer.ID}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d due jobs, got %d", len(want), len(jobs))
	}
	for i, job := range jobs {
		if job.ID != want[i] {
			t.Fatalf("position %d: expected job %d, got %d", i, want[i], job.ID)
		}
	}

	limited, err := store.PendingJobs(ctx, 1)
	if err != nil {
		t.Fatalf("PendingJobs limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != urgent.ID {
		t.Fatalf("expected batch of the urgent job, got %+v", limited)
	}
}

func TestMarkAsProcessingClaimsOnce(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkAsProcessing(ctx, job.ID)
			if err != nil {
				t.Errorf("MarkAsProcessing: %v", err)
				return
			}
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("expected one successful claim, got %d", claims)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(clock.Now()) {
		t.Fatalf("expected started_at %v, got %v", clock.Now(), got.StartedAt)
	}
}

func TestMarkWaitingForRemoteRecordsTask(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	if ok, err := store.MarkWaitingForRemote(ctx, job.ID, queue.RemoteTask{TaskID: "task-1"}); err != nil || ok {
		t.Fatalf("expected no-op on PENDING job, ok=%v err=%v", ok, err)
	}
	if _, err := store.MarkAsProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkAsProcessing: %v", err)
	}
	if ok, err := store.MarkWaitingForRemote(ctx, job.ID, queue.RemoteTask{TaskID: "task-1", WebhookURL: "http://hook"}); err != nil || !ok {
		t.Fatalf("MarkWaitingForRemote: ok=%v err=%v", ok, err)
	}

	got, err := store.FindJobByRemoteTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("FindJobByRemoteTask: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected job %d by remote task, got %+v", job.ID, got)
	}
	if got.Status != queue.StatusWaitingForRemote || got.RemoteTaskID != "task-1" {
		t.Fatalf("unexpected job state %s/%s", got.Status, got.RemoteTaskID)
	}
	if got.Metadata.Remote == nil || got.Metadata.Remote.WebhookURL != "http://hook" {
		t.Fatalf("expected remote metadata, got %+v", got.Metadata.Remote)
	}

	awaiting, err := store.JobsAwaitingRemote(ctx, 10)
	if err != nil {
		t.Fatalf("JobsAwaitingRemote: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].ID != job.ID {
		t.Fatalf("expected job awaiting remote, got %d", len(awaiting))
	}
}

func TestFailJobReschedulesWithLinearBackoff(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job, _, err := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Conversion, MaxRetries: 2})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := store.MarkAsProcessing(ctx, job.ID); err != nil {
			t.Fatalf("MarkAsProcessing: %v", err)
		}
		outcome, err := store.FailJob(ctx, job.ID, "boom")
		if err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		if !outcome.Rescheduled() {
			t.Fatalf("attempt %d: expected reschedule, got %+v", attempt, outcome)
		}
		wantAt := clock.Now().Add(time.Duration(attempt) * time.Minute)
		if outcome.RetryCount != attempt || !outcome.ScheduledAt.Equal(wantAt) {
			t.Fatalf("attempt %d: expected retry %d at %v, got %+v", attempt, attempt, wantAt, outcome)
		}
		got, _ := store.GetJob(ctx, job.ID)
		if got.Status != queue.StatusPending || got.StartedAt != nil || got.ErrorMessage != "boom" {
			t.Fatalf("attempt %d: unexpected job %+v", attempt, got)
		}
		clock.Advance(time.Duration(attempt) * time.Minute)
	}

	if _, err := store.MarkAsProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkAsProcessing: %v", err)
	}
	outcome, err := store.FailJob(ctx, job.ID, "final")
	if err != nil {
		t.Fatalf("FailJob final: %v", err)
	}
	if !outcome.Applied || outcome.Status != queue.StatusFailed {
		t.Fatalf("expected terminal failure, got %+v", outcome)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != queue.StatusFailed || got.CompletedAt == nil {
		t.Fatalf("expected FAILED with completed_at, got %+v", got)
	}
}

func TestFailJobWithoutRetriesFailsImmediately(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	outcome, err := store.FailJob(ctx, job.ID, "bad input")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if outcome.Status != queue.StatusFailed || outcome.Rescheduled() {
		t.Fatalf("expected FAILED, got %+v", outcome)
	}
}

func TestTerminalJobsIgnoreFurtherTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	if ok, err := store.CancelJob(ctx, job.ID, "stop"); err != nil || !ok {
		t.Fatalf("CancelJob: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.MarkAsProcessing(ctx, job.ID); ok {
		t.Fatal("cancelled job must not be claimable")
	}
	if ok, _ := store.CompleteJob(ctx, job.ID); ok {
		t.Fatal("cancelled job must not complete")
	}
	if ok, _ := store.CancelJob(ctx, job.ID, "again"); ok {
		t.Fatal("second cancel must be a no-op")
	}
	outcome, err := store.FailJob(ctx, job.ID, "late failure")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if outcome.Applied || outcome.Status != queue.StatusCancelled {
		t.Fatalf("expected untouched cancelled job, got %+v", outcome)
	}

	if _, err := store.FailJob(ctx, 9999, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing job, got %v", err)
	}
}

func TestCompleteJobIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)
	store.MarkAsProcessing(ctx, job.ID)

	if ok, err := store.CompleteJob(ctx, job.ID); err != nil || !ok {
		t.Fatalf("CompleteJob: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompleteJob(ctx, job.ID); err != nil || ok {
		t.Fatalf("second CompleteJob should be a no-op: ok=%v err=%v", ok, err)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != queue.StatusFinished || got.CompletedAt == nil {
		t.Fatalf("expected FINISHED job, got %+v", got)
	}
}

func TestRetryJobResetsFailedJob(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Optimizer)

	if _, err := store.RetryJob(ctx, job.ID); err == nil {
		t.Fatal("expected error retrying a PENDING job")
	}

	store.MarkAsProcessing(ctx, job.ID)
	store.FailJob(ctx, job.ID, "boom")
	clock.Advance(time.Hour)

	retried, err := store.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != queue.StatusPending || retried.RetryCount != 1 {
		t.Fatalf("unexpected retried job %+v", retried)
	}
	if !retried.ScheduledAt.Equal(clock.Now()) || retried.CompletedAt != nil || retried.ErrorMessage != "" {
		t.Fatalf("expected due immediately with cleared state, got %+v", retried)
	}
	if retried.Metadata.Trigger != queue.TriggerRetry {
		t.Fatalf("expected retry trigger, got %q", retried.Metadata.Trigger)
	}

	if _, err := store.RetryJob(ctx, 4242); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryJobRefusesWhenAnotherJobIsActive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)
	store.CancelJob(ctx, job.ID, "stop")
	testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	if _, err := store.RetryJob(ctx, job.ID); !errors.Is(err, queue.ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists, got %v", err)
	}
}

func TestReplaceStuckJobCreatesBumpedReplacement(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeWeb)
	job, _, err := store.CreateJob(ctx, queue.NewJob{
		DocumentID: "doc-1",
		Stage:      stage.Conversion,
		Priority:   2,
		MaxRetries: 3,
		Metadata:   queue.JobMetadata{Source: &queue.SourceHint{URL: "https://example.test/page"}},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	store.MarkAsProcessing(ctx, job.ID)
	clock.Advance(20 * time.Minute)

	stuck, err := store.StuckJobs(ctx, clock.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("StuckJobs: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != job.ID {
		t.Fatalf("expected job to be stuck, got %d", len(stuck))
	}

	replacement, err := store.ReplaceStuckJob(ctx, job.ID, "stuck", 30*time.Second)
	if err != nil {
		t.Fatalf("ReplaceStuckJob: %v", err)
	}
	if replacement == nil {
		t.Fatal("expected replacement job")
	}
	if replacement.Priority != 3 || replacement.RetryCount != 1 || replacement.MaxRetries != 3 {
		t.Fatalf("unexpected replacement counters %+v", replacement)
	}
	if !replacement.ScheduledAt.Equal(clock.Now().Add(30 * time.Second)) {
		t.Fatalf("expected delayed schedule, got %v", replacement.ScheduledAt)
	}
	if !replacement.Metadata.IsRecoveryReplacement() || replacement.Metadata.Recovery.ReplacesJobID != job.ID {
		t.Fatalf("expected recovery metadata, got %+v", replacement.Metadata)
	}
	if replacement.Metadata.SourceURL() != "https://example.test/page" {
		t.Fatalf("expected source hint carried over, got %q", replacement.Metadata.SourceURL())
	}

	original, _ := store.GetJob(ctx, job.ID)
	if original.Status != queue.StatusFailed {
		t.Fatalf("expected original FAILED, got %s", original.Status)
	}

	again, err := store.ReplaceStuckJob(ctx, job.ID, "stuck", 0)
	if err != nil {
		t.Fatalf("second ReplaceStuckJob: %v", err)
	}
	if again != nil {
		t.Fatal("expected no replacement for a job no longer in flight")
	}
}

func TestUpdateJobMetadataMerges(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeMedia)
	job, _, _ := store.CreateJob(ctx, queue.NewJob{
		DocumentID: "doc-1",
		Stage:      stage.Conversion,
		Metadata:   queue.JobMetadata{Trigger: queue.TriggerManual, Source: &queue.SourceHint{URL: "https://v.test/1"}},
	})

	err := store.UpdateJobMetadata(ctx, job.ID, func(meta *queue.JobMetadata) {
		meta.Progress = &queue.Progress{Percent: 40, Step: "transcribing"}
	})
	if err != nil {
		t.Fatalf("UpdateJobMetadata: %v", err)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Metadata.Trigger != queue.TriggerManual || got.Metadata.Progress == nil || got.Metadata.Progress.Percent != 40 {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}

	hint, err := store.LatestSourceHint(ctx, "doc-1")
	if err != nil {
		t.Fatalf("LatestSourceHint: %v", err)
	}
	if hint != "https://v.test/1" {
		t.Fatalf("expected source hint, got %q", hint)
	}
}

func TestListJobsFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	testsupport.NewDocument(t, store, "doc-2", queue.DocumentTypeFile)
	a := testsupport.NewJob(t, store, "doc-1", stage.Conversion)
	testsupport.NewJob(t, store, "doc-2", stage.Conversion)
	store.CancelJob(ctx, a.ID, "stop")

	tests := []struct {
		name   string
		filter queue.JobFilter
		want   int
	}{
		{name: "all", filter: queue.JobFilter{}, want: 2},
		{name: "document", filter: queue.JobFilter{DocumentID: "doc-1"}, want: 1},
		{name: "status", filter: queue.JobFilter{Statuses: []queue.Status{queue.StatusPending}}, want: 1},
		{name: "stage", filter: queue.JobFilter{Stage: stage.Chunker}, want: 0},
		{name: "limit", filter: queue.JobFilter{Limit: 1}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			jobs, err := store.ListJobs(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != tc.want {
				t.Fatalf("expected %d jobs, got %d", tc.want, len(jobs))
			}
		})
	}
}

func TestFailJobTerminalIgnoresRemainingRetries(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job, _, _ := store.CreateJob(ctx, queue.NewJob{DocumentID: "doc-1", Stage: stage.Conversion, MaxRetries: 5})

	if ok, err := store.FailJobTerminal(ctx, job.ID, "remote unavailable"); err != nil || !ok {
		t.Fatalf("FailJobTerminal: ok=%v err=%v", ok, err)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != queue.StatusFailed || got.RetryCount != 0 {
		t.Fatalf("expected FAILED without retry bump, got %+v", got)
	}
	if ok, _ := store.FailJobTerminal(ctx, job.ID, "again"); ok {
		t.Fatal("expected no-op on terminal job")
	}
}

func TestUpdateJobMetadataKeepsCorruptBlob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, store, "doc-1", stage.Conversion)

	db, err := sql.Open("sqlite", cfg.Database.DSN)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	const corrupt = `{"trigger":`
	if _, err := db.ExecContext(ctx, `UPDATE processing_jobs SET metadata_json = ? WHERE id = ?`, corrupt, job.ID); err != nil {
		t.Fatalf("corrupt metadata: %v", err)
	}

	err = store.UpdateJobMetadata(ctx, job.ID, func(meta *queue.JobMetadata) {
		meta.Trigger = queue.TriggerManual
	})
	if !errors.Is(err, queue.ErrCorruptMetadata) {
		t.Fatalf("expected corrupt metadata error, got %v", err)
	}
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT metadata_json FROM processing_jobs WHERE id = ?`, job.ID).Scan(&raw); err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if raw != corrupt {
		t.Fatalf("expected stored metadata untouched, got %q", raw)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("GetJob: job=%v err=%v", got, err)
	}
	if got.Metadata.Trigger != "" {
		t.Fatalf("expected empty metadata for unreadable blob, got %+v", got.Metadata)
	}
}
