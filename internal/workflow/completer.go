package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/failures"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/services"
)

// Completion sources.
const (
	SourceProcessor = "processor"
	SourcePoller    = "poller"
	SourceWebhook   = "webhook"
)

// Completion describes a finished remote task to record.
type Completion struct {
	Job         *queue.Job
	ExecutionID int64 // zero looks it up from the job
	TaskID      string
	Result      *remote.Result
	Source      string
}

// CompletionResult reports what Complete did.
type CompletionResult struct {
	// Applied is false when the job was already terminal and the result was
	// discarded.
	Applied    bool
	Outputs    []string
	Downloaded int
	NextJob    *queue.Job

	// PipelineComplete is set when the last stage finished. Rejected is set
	// when the result was malformed and the job was failed.
	PipelineComplete bool
	Rejected         bool
}

// completer is the completion routine shared by the processor (synchronous
// results), the poller and the webhook.
type completer struct {
	*deps
}

// Complete downloads missing outputs, finishes the job and execution, and
// advances automatic documents to their next stage. Malformed results fail the
// job and come back as Rejected; download and transport errors are returned
// untouched so the caller can retry.
func (c *completer) Complete(ctx context.Context, comp Completion) (CompletionResult, error) {
	if comp.Job == nil {
		return CompletionResult{}, errors.New("complete: job is required")
	}
	ctx = jobContext(ctx, comp.Source, comp.Job)
	logger := jobLogger(ctx, c.logger, comp.Job)

	job, err := c.store.GetJob(ctx, comp.Job.ID)
	if err != nil {
		return CompletionResult{}, err
	}
	if job == nil {
		return CompletionResult{}, fmt.Errorf("complete job %d: %w", comp.Job.ID, queue.ErrNotFound)
	}
	if job.Status.Terminal() {
		logger.Info("late remote result discarded",
			logging.String("job_status", string(job.Status)),
			logging.String("source", comp.Source),
			logging.EventType("late_result_discarded"),
		)
		return CompletionResult{}, nil
	}

	exec, err := c.ownedExecution(ctx, job, comp.ExecutionID)
	if err != nil {
		return CompletionResult{}, err
	}

	taskID := strings.TrimSpace(comp.TaskID)
	if taskID == "" {
		taskID = job.RemoteTaskID
	}
	outputs, downloaded, err := c.collectOutputs(ctx, job, taskID, comp.Result)
	if err != nil {
		if !errors.Is(err, services.ErrValidation) {
			return CompletionResult{}, err
		}
		res, handleErr := c.failures.HandleJobFailure(ctx, failures.Failure{
			Job:         job,
			ExecutionID: executionID(exec),
			Err:         err,
			Disposition: failures.DispositionFail,
		})
		if handleErr != nil {
			return CompletionResult{}, handleErr
		}
		logger.Warn("remote completion rejected",
			logging.String("category", string(res.Category)),
			logging.String("source", comp.Source),
			logging.EventType("completion_rejected"),
			logging.ErrorHint("inspect the remote task output"),
		)
		return CompletionResult{Rejected: true}, nil
	}

	applied, err := c.store.CompleteJob(ctx, job.ID)
	if err != nil {
		return CompletionResult{}, err
	}
	if !applied {
		logger.Info("job finished elsewhere; completion is a no-op",
			logging.String("source", comp.Source),
			logging.EventType("completion_duplicate"),
		)
		return CompletionResult{Outputs: outputs, Downloaded: downloaded}, nil
	}
	result := CompletionResult{Applied: true, Outputs: outputs, Downloaded: downloaded}

	meta := queue.ExecutionMetadata{CompletedVia: comp.Source}
	if comp.Result != nil {
		meta.ExecutionTimeSeconds = comp.Result.ExecutionTime
		meta.Metrics = comp.Result.Metrics
		meta.Warnings = comp.Result.Warnings
	}
	if exec != nil {
		if _, err := c.tracker.Complete(ctx, exec, outputs, meta); err != nil {
			return result, err
		}
	}
	if err := c.store.UpdateJobMetadata(ctx, job.ID, func(m *queue.JobMetadata) {
		m.Progress = &queue.Progress{Percent: 100, Step: "completed", UpdatedAt: c.store.Now()}
		m.Poll = nil
	}); err != nil {
		logger.Warn("failed to record final progress", logging.Error(err))
	}
	c.metrics.JobFinished(string(job.Stage))

	logger.Info("job finished",
		logging.Int("output_files", len(outputs)),
		logging.Int("downloaded", downloaded),
		logging.String("source", comp.Source),
		logging.EventType("job_finished"),
	)

	next, done, err := c.advance(ctx, job)
	if err != nil {
		logger.Warn("failed to advance pipeline",
			logging.Error(err),
			logging.EventType("pipeline_advance_failed"),
			logging.ErrorHint("the scheduler will pick the document up on its next tick"),
		)
		return result, nil
	}
	result.NextJob = next
	result.PipelineComplete = done
	return result, nil
}

// collectOutputs downloads the task's files that are not stored yet and
// returns the output file names.
func (c *completer) collectOutputs(ctx context.Context, job *queue.Job, taskID string, result *remote.Result) ([]string, int, error) {
	var names []string
	if taskID != "" {
		manifest, err := c.remote.Files(ctx, taskID)
		if err != nil {
			return nil, 0, err
		}
		for _, f := range manifest {
			names = append(names, f.Filename)
		}
	}
	if len(names) == 0 && result != nil {
		names = append(names, result.OutputFiles...)
	}
	names = uniqueNames(names)
	if len(names) == 0 {
		return nil, 0, services.Wrap(services.ErrValidation, "workflow", "complete",
			fmt.Sprintf("remote task %s completed without output files", taskID), nil)
	}

	downloaded := 0
	for _, name := range names {
		has, err := c.artifacts.Has(ctx, job.DocumentID, job.Stage, name)
		if err != nil {
			return nil, downloaded, err
		}
		if has {
			continue
		}
		if taskID == "" {
			return nil, downloaded, services.Wrap(services.ErrValidation, "workflow", "complete",
				fmt.Sprintf("output %s reported without a remote task to download from", name), nil)
		}
		if err := c.download(ctx, job, taskID, name); err != nil {
			return nil, downloaded, err
		}
		downloaded++
	}
	return names, downloaded, nil
}

func (c *completer) download(ctx context.Context, job *queue.Job, taskID, name string) error {
	body, err := c.remote.Download(ctx, taskID, name)
	if err != nil {
		return err
	}
	defer body.Close()
	_, _, err = c.artifacts.Save(ctx, queue.DocumentFile{
		DocumentID: job.DocumentID,
		Stage:      job.Stage,
		Filename:   name,
	}, body)
	return err
}

// advance moves an AUTOMATIC document to its next stage and enqueues it.
// MANUAL documents only get their completion recorded.
func (c *completer) advance(ctx context.Context, job *queue.Job) (*queue.Job, bool, error) {
	doc, err := c.store.GetDocument(ctx, job.DocumentID)
	if err != nil || doc == nil {
		return nil, false, err
	}
	if doc.ProcessingMode != queue.ModeAutomatic {
		_, pending, err := c.tracker.NextStage(ctx, doc.ID)
		if err != nil {
			return nil, false, err
		}
		if !pending {
			if _, _, err := c.tracker.AdvanceToNextStage(ctx, doc.ID); err != nil {
				return nil, false, err
			}
			c.pipelineComplete(ctx, doc)
			return nil, true, nil
		}
		return nil, false, nil
	}

	next, ok, err := c.tracker.AdvanceToNextStage(ctx, doc.ID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.pipelineComplete(ctx, doc)
		return nil, true, nil
	}
	if doc.Paused {
		return nil, false, nil
	}
	created, isNew, err := c.store.CreateJob(ctx, queue.NewJob{
		DocumentID: doc.ID,
		Stage:      next,
		MaxRetries: c.cfg.JobMaxRetries(string(next)),
		Metadata: queue.JobMetadata{
			Trigger: queue.TriggerScheduler,
			Source:  job.Metadata.Source,
		},
	})
	if err != nil {
		return nil, false, err
	}
	if isNew {
		c.metrics.JobCreated(string(next), string(queue.TriggerScheduler))
		jobLogger(ctx, c.logger, job).Info("next stage enqueued",
			logging.Int64("next_job_id", created.ID),
			logging.String("next_stage", string(next)),
			logging.EventType("stage_enqueued"),
		)
	}
	return created, false, nil
}

func (c *completer) pipelineComplete(ctx context.Context, doc *queue.Document) {
	logging.WithContext(ctx, c.logger).Info("pipeline complete",
		logging.DocumentID(doc.ID),
		logging.EventType("pipeline_complete"),
	)
	if err := c.notifier.NotifyPipelineComplete(ctx, doc.ID, doc.Title); err != nil {
		c.logger.Debug("pipeline completion notification failed", logging.Error(err))
	}
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
