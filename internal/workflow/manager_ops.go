package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/failures"
	"docflow/internal/handlers"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/stageexec"
)

// Webhook outcomes.
const (
	WebhookCompleted = "completed"
	WebhookFailed    = "failed"
	WebhookIgnored   = "ignored"
	WebhookDuplicate = "duplicate"
	WebhookRejected  = "rejected"
)

// StageCallback is the payload the remote worker posts when a task settles.
type StageCallback struct {
	JobID       int64
	ExecutionID int64
	TaskID      string
	Event       string
	Stage       CallbackStage
	OutputFiles []string
	Metrics     map[string]any
	Warnings    []string
}

// CallbackStage is the stage block of a callback.
type CallbackStage struct {
	Type          string
	Status        string
	ExecutionTime float64
	ErrorMessage  string
}

// TriggerStage enqueues st for a document on operator request. It returns the
// active job and false when one already exists.
func (m *Manager) TriggerStage(ctx context.Context, documentID string, st stage.Stage) (*queue.Job, bool, error) {
	if !st.Valid() {
		return nil, false, services.Wrap(services.ErrValidation, "workflow", "trigger stage", fmt.Sprintf("unknown stage %q", st), nil)
	}
	doc, err := m.deps.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, fmt.Errorf("document %s: %w", documentID, queue.ErrNotFound)
	}
	ctx = services.WithStage(services.WithDocumentID(ctx, doc.ID), string(st))

	meta := queue.JobMetadata{Trigger: queue.TriggerManual}
	if doc.Type.SourceDriven() {
		url, err := m.deps.sources.RecoverSourceURL(ctx, doc.ID)
		if err != nil {
			return nil, false, err
		}
		if url == "" {
			return nil, false, &handlers.NoSourceError{DocumentID: doc.ID}
		}
		meta.Source = &queue.SourceHint{URL: url, ContentSource: strings.ToLower(string(doc.Type))}
	}

	job, created, err := m.deps.store.CreateJob(ctx, queue.NewJob{
		DocumentID: doc.ID,
		Stage:      st,
		MaxRetries: m.deps.cfg.JobMaxRetries(string(st)),
		Metadata:   meta,
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		return job, false, nil
	}
	pending := queue.StageStatusPending
	if err := m.deps.store.UpdateDocumentStage(ctx, doc.ID, queue.DocumentStageUpdate{
		CurrentStage: &st,
		StageStatus:  &pending,
	}); err != nil {
		return job, true, err
	}
	m.deps.metrics.JobCreated(string(st), string(queue.TriggerManual))
	logging.WithContext(ctx, m.deps.logger).Info("stage triggered",
		logging.JobID(job.ID),
		logging.EventType("job_triggered"),
	)
	return job, true, nil
}

// RetryJob puts a FAILED or CANCELLED job back in the queue.
func (m *Manager) RetryJob(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := m.deps.store.RetryJob(ctx, id)
	if err != nil {
		return job, err
	}
	ctx = jobContext(ctx, "operator", job)
	pending := queue.StageStatusPending
	cleared := ""
	if err := m.deps.store.UpdateDocumentStage(ctx, job.DocumentID, queue.DocumentStageUpdate{
		CurrentStage:   &job.Stage,
		StageStatus:    &pending,
		LastStageError: &cleared,
	}); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return job, err
	}
	m.deps.metrics.JobCreated(string(job.Stage), string(queue.TriggerRetry))
	jobLogger(ctx, m.deps.logger, job).Info("job retried",
		logging.Int("retry_count", job.RetryCount),
		logging.EventType("job_retried"),
	)
	return job, nil
}

// CancelJob cancels a non-terminal job. It returns false when the job was
// already terminal.
func (m *Manager) CancelJob(ctx context.Context, id int64, reason string) (bool, error) {
	job, err := m.deps.store.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by operator"
	}
	ctx = jobContext(ctx, "operator", job)
	ok, err := m.deps.store.CancelJob(ctx, id, reason)
	if err != nil || !ok {
		return false, err
	}
	if exec, err := m.deps.executionFor(ctx, job); err == nil && exec != nil {
		if _, err := m.deps.tracker.Fail(ctx, exec, reason); err != nil {
			return true, err
		}
	}
	cancelled := queue.StageStatusCancelled
	if err := m.deps.store.UpdateDocumentStage(ctx, job.DocumentID, queue.DocumentStageUpdate{
		StageStatus:    &cancelled,
		LastStageError: &reason,
	}); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return true, err
	}
	jobLogger(ctx, m.deps.logger, job).Info("job cancelled",
		logging.String("reason", reason),
		logging.EventType("job_cancelled"),
	)
	return true, nil
}

// HandleStageCallback applies a remote worker callback. Callbacks for jobs
// that already settled are acknowledged as duplicates.
func (m *Manager) HandleStageCallback(ctx context.Context, cb StageCallback) (string, error) {
	outcome, err := m.handleStageCallback(ctx, cb)
	if err == nil {
		m.deps.metrics.Webhook(outcome)
	} else {
		m.deps.metrics.Webhook(WebhookRejected)
	}
	return outcome, err
}

func (m *Manager) handleStageCallback(ctx context.Context, cb StageCallback) (string, error) {
	job, err := m.deps.store.GetJob(ctx, cb.JobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job %d: %w", cb.JobID, queue.ErrNotFound)
	}
	if reported, ok := stage.Parse(cb.Stage.Type); cb.Stage.Type != "" && (!ok || reported != job.Stage) {
		return "", services.Wrap(services.ErrValidation, "workflow", "stage callback",
			fmt.Sprintf("callback stage %q does not match job stage %s", cb.Stage.Type, job.Stage), nil)
	}
	ctx = jobContext(ctx, SourceWebhook, job)
	logger := jobLogger(ctx, m.deps.logger, job)
	if job.Status.Terminal() {
		logger.Info("callback for settled job ignored",
			logging.String("job_status", string(job.Status)),
			logging.EventType("webhook_duplicate"),
		)
		return WebhookDuplicate, nil
	}

	status := strings.ToLower(strings.TrimSpace(cb.Stage.Status))
	if status == "" {
		status = strings.ToLower(strings.TrimSpace(cb.Event))
	}
	switch {
	case strings.Contains(status, string(remote.StatusCompleted)):
		res, err := m.completer.Complete(ctx, Completion{
			Job:         job,
			ExecutionID: cb.ExecutionID,
			TaskID:      cb.TaskID,
			Result: &remote.Result{
				OutputFiles:   cb.OutputFiles,
				ExecutionTime: cb.Stage.ExecutionTime,
				Metrics:       cb.Metrics,
				Warnings:      cb.Warnings,
			},
			Source: SourceWebhook,
		})
		switch {
		case err != nil:
			return "", err
		case res.Rejected:
			return WebhookRejected, nil
		case !res.Applied:
			return WebhookDuplicate, nil
		}
		return WebhookCompleted, nil
	case strings.Contains(status, string(remote.StatusFailed)):
		var execID int64
		if cb.ExecutionID > 0 {
			exec, err := m.deps.ownedExecution(ctx, job, cb.ExecutionID)
			if err != nil {
				return "", err
			}
			execID = executionID(exec)
		} else {
			execID = m.deps.failureExecutionID(ctx, logger, job)
		}
		message := strings.TrimSpace(cb.Stage.ErrorMessage)
		if message == "" {
			message = fmt.Sprintf("remote worker reported %s failed", job.Stage)
		}
		res, err := m.deps.failures.HandleJobFailure(ctx, failures.Failure{
			Job:         job,
			ExecutionID: execID,
			Err:         errors.New(message),
		})
		if err != nil {
			return "", err
		}
		if !res.Applied {
			return WebhookDuplicate, nil
		}
		return WebhookFailed, nil
	default:
		logger.Debug("callback event ignored",
			logging.String("event", cb.Event),
			logging.String("stage_status", cb.Stage.Status),
		)
		return WebhookIgnored, nil
	}
}

// PipelineStatus reports per-stage progress for a document.
func (m *Manager) PipelineStatus(ctx context.Context, documentID string) (stageexec.PipelineStatus, error) {
	doc, err := m.deps.store.GetDocument(ctx, documentID)
	if err != nil {
		return stageexec.PipelineStatus{}, err
	}
	if doc == nil {
		return stageexec.PipelineStatus{}, fmt.Errorf("document %s: %w", documentID, queue.ErrNotFound)
	}
	return m.deps.tracker.PipelineStatus(ctx, documentID)
}
