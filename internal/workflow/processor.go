package workflow

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"docflow/internal/failures"
	"docflow/internal/handlers"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

// Processor claims pending jobs and submits them to the remote worker.
type Processor struct {
	*deps
	completer *completer
	batchSize int
}

// Tick claims and dispatches up to one batch of due jobs. It returns how many
// jobs this tick claimed.
func (p *Processor) Tick(ctx context.Context) (int, error) {
	jobs, err := p.store.PendingJobs(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	claimed := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}
		ok, err := p.store.MarkAsProcessing(ctx, job.ID)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		claimed++
		job.Status = queue.StatusProcessing
		p.process(jobContext(ctx, "processor", job), job)
	}
	return claimed, nil
}

func (p *Processor) process(ctx context.Context, job *queue.Job) {
	logger := jobLogger(ctx, p.logger, job)

	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		p.fail(ctx, job, nil, err, failures.DispositionRetry)
		return
	}
	if doc == nil {
		p.fail(ctx, job, nil, services.Wrap(services.ErrNotFound, "processor", "load document",
			fmt.Sprintf("document %s not found", job.DocumentID), nil), failures.DispositionFail)
		return
	}

	exec, err := p.tracker.Start(ctx, job, nil)
	if err != nil {
		p.fail(ctx, job, exec, err, failures.DispositionRetry)
		return
	}
	if err := p.store.UpdateJobMetadata(ctx, job.ID, func(m *queue.JobMetadata) {
		m.Execution = &queue.ExecutionRef{ID: exec.ID}
	}); err != nil {
		logger.Warn("failed to link execution to job", logging.Error(err))
	}

	inputs, err := p.tracker.DependencyInputs(ctx, job.DocumentID, job.Stage)
	if err != nil {
		p.fail(ctx, job, exec, err, failures.DispositionFail)
		return
	}
	if err := p.tracker.SetInputs(ctx, exec, inputs); err != nil {
		logger.Warn("failed to record execution inputs", logging.Error(err))
	}

	handler, err := handlers.ForDocument(doc, p.handlerEnv())
	if err != nil {
		p.fail(ctx, job, exec, err, failures.DispositionFail)
		return
	}
	req := handlers.Request{
		Job:        job,
		Document:   doc,
		Inputs:     inputs,
		WebhookURL: p.webhookURL(job, exec),
	}
	content, err := handler.GetContent(ctx, req)
	if err != nil {
		p.fail(ctx, job, exec, err, failures.DispositionFail)
		return
	}
	if content.SourceURL != "" && job.Metadata.SourceURL() == "" {
		if err := p.store.UpdateJobMetadata(ctx, job.ID, func(m *queue.JobMetadata) {
			m.Source = &queue.SourceHint{URL: content.SourceURL, ContentSource: content.ContentSource}
		}); err != nil {
			logger.Warn("failed to record source hint", logging.Error(err))
		}
	}

	submitted := p.store.Now()
	resp, err := p.remote.Submit(ctx, handler.BuildRequest(req, content))
	if err != nil {
		p.fail(ctx, job, exec, err, failures.DispositionRetry)
		return
	}

	if resp.TaskID != "" {
		ok, err := p.store.MarkWaitingForRemote(ctx, job.ID, queue.RemoteTask{
			TaskID:      resp.TaskID,
			SubmittedAt: submitted,
			WebhookURL:  req.WebhookURL,
		})
		if err != nil {
			logger.Error("failed to record remote task",
				logging.RemoteTaskID(resp.TaskID),
				logging.Error(err),
				logging.EventType("remote_task_persist_failed"),
				logging.ErrorHint("check database access; recovery will replace the job"),
			)
			return
		}
		if !ok {
			logger.Info("job left processing before submission was recorded; remote result will be discarded",
				logging.RemoteTaskID(resp.TaskID),
				logging.EventType("submission_orphaned"),
			)
			return
		}
		job.RemoteTaskID = resp.TaskID
		job.Status = queue.StatusWaitingForRemote
	}

	if !resp.Synchronous() {
		logger.Info("stage submitted",
			logging.RemoteTaskID(resp.TaskID),
			logging.Int("inputs", len(content.Inputs)),
			logging.EventType("stage_submitted"),
		)
		return
	}

	if _, err := p.completer.Complete(ctx, Completion{
		Job:         job,
		ExecutionID: exec.ID,
		TaskID:      resp.TaskID,
		Result:      resp.Result,
		Source:      SourceProcessor,
	}); err != nil {
		if resp.TaskID != "" {
			logger.Warn("synchronous completion failed; poller will retry",
				logging.Error(err),
				logging.EventType("sync_completion_deferred"),
				logging.ErrorHint("check remote worker reachability"),
			)
			return
		}
		p.fail(ctx, job, exec, err, failures.DispositionRetry)
	}
}

// webhookURL builds the callback URL with the job and execution ids the
// webhook receiver correlates on.
func (p *Processor) webhookURL(job *queue.Job, exec *queue.Execution) string {
	base := p.cfg.WebhookURL()
	if base == "" {
		return ""
	}
	query := url.Values{}
	query.Set("job_id", strconv.FormatInt(job.ID, 10))
	query.Set("execution_id", strconv.FormatInt(exec.ID, 10))
	if secret := p.cfg.API.WebhookSecret; secret != "" {
		query.Set("token", secret)
	}
	return base + "?" + query.Encode()
}

func (p *Processor) fail(ctx context.Context, job *queue.Job, exec *queue.Execution, err error, disposition failures.Disposition) {
	if _, handleErr := p.failures.HandleJobFailure(ctx, failures.Failure{
		Job:         job,
		ExecutionID: executionID(exec),
		Err:         err,
		Disposition: disposition,
	}); handleErr != nil {
		jobLogger(ctx, p.logger, job).Error("failed to record job failure",
			logging.Error(handleErr),
			logging.String("original_error", err.Error()),
			logging.EventType("failure_persist_failed"),
			logging.ErrorHint("check database access"),
		)
	}
}
