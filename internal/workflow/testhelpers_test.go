package workflow_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docflow/internal/artifacts"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/metrics"
	"docflow/internal/notifications"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
	"docflow/internal/workflow"
)

const workerToken = "worker-token"

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	cfg       *config.Config
	store     *queue.Store
	clock     *testsupport.Clock
	worker    *testsupport.FakeWorker
	artifacts *artifacts.Store
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	manager   *workflow.Manager
}

func newTestEnv(t *testing.T, opts ...testsupport.ConfigOption) *testEnv {
	t.Helper()

	worker := testsupport.NewFakeWorker(t, workerToken)
	opts = append([]testsupport.ConfigOption{testsupport.WithRemote(worker.URL(), workerToken)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	clock := testsupport.NewClock(testEpoch)
	store.SetClock(clock.Now)

	arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}
	client, err := remote.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("remote.NewFromConfig: %v", err)
	}
	notifier := &recordingNotifier{}
	m := metrics.New()
	mgr := workflow.NewManager(cfg, store, client, arts, logging.NewNop(),
		workflow.WithNotifier(notifier),
		workflow.WithMetrics(m),
	)
	return &testEnv{
		cfg:       cfg,
		store:     store,
		clock:     clock,
		worker:    worker,
		artifacts: arts,
		notifier:  notifier,
		metrics:   m,
		manager:   mgr,
	}
}

// addFileDocument creates an AUTOMATIC FILE document with one uploaded source.
func (e *testEnv) addFileDocument(t *testing.T, id string) *queue.Document {
	t.Helper()

	doc := testsupport.NewDocument(t, e.store, id, queue.DocumentTypeFile)
	src := testsupport.WriteFile(t, filepath.Join(testsupport.BaseDir(e.cfg), "uploads", id+".pdf"), "%PDF-1.7 "+id)
	if _, err := e.artifacts.ImportSource(context.Background(), id, src); err != nil {
		t.Fatalf("ImportSource: %v", err)
	}
	return doc
}

// submitStage enqueues st for the document and runs the processor so the job
// ends up waiting on the fake worker.
func (e *testEnv) submitStage(t *testing.T, documentID string, st stage.Stage) *queue.Job {
	t.Helper()

	ctx := context.Background()
	job, created, err := e.manager.TriggerStage(ctx, documentID, st)
	if err != nil || !created {
		t.Fatalf("TriggerStage: created=%v err=%v", created, err)
	}
	if n, err := e.manager.Processor().Tick(ctx); err != nil || n != 1 {
		t.Fatalf("Processor.Tick: claimed=%d err=%v", n, err)
	}
	return e.mustJob(t, job.ID)
}

func (e *testEnv) mustJob(t *testing.T, id int64) *queue.Job {
	t.Helper()

	job, err := e.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job == nil {
		t.Fatalf("job %d not found", id)
	}
	return job
}

func (e *testEnv) mustDocument(t *testing.T, id string) *queue.Document {
	t.Helper()

	doc, err := e.store.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc == nil {
		t.Fatalf("document %s not found", id)
	}
	return doc
}

func (e *testEnv) activeJob(t *testing.T, documentID string, st stage.Stage) *queue.Job {
	t.Helper()

	job, err := e.store.ActiveJob(context.Background(), documentID, st)
	if err != nil {
		t.Fatalf("ActiveJob: %v", err)
	}
	return job
}

type recoveryNotice struct {
	DocumentID string
	Stage      string
	Action     string
}

type recordingNotifier struct {
	mu        sync.Mutex
	failures  []notifications.JobFailure
	recovery  []recoveryNotice
	completed []string
}

func (n *recordingNotifier) NotifyJobFailed(_ context.Context, failure notifications.JobFailure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, failure)
	return nil
}

func (n *recordingNotifier) NotifyRecoveryAction(_ context.Context, documentID, st, action, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recovery = append(n.recovery, recoveryNotice{DocumentID: documentID, Stage: st, Action: action})
	return nil
}

func (n *recordingNotifier) NotifyPipelineComplete(_ context.Context, documentID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, documentID)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func (n *recordingNotifier) jobFailures() []notifications.JobFailure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.JobFailure(nil), n.failures...)
}

func (n *recordingNotifier) recoveryNotices() []recoveryNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recoveryNotice(nil), n.recovery...)
}

func (n *recordingNotifier) completedPipelines() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.completed...)
}
