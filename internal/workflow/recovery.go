package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docflow/internal/failures"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

// RecoveryAction is what recovery did with a stuck job.
type RecoveryAction string

const (
	ActionReplace RecoveryAction = "REPLACE"
	ActionFail    RecoveryAction = "FAIL"
	ActionCancel  RecoveryAction = "CANCEL"
)

// errStuckJob tags audit rows written by recovery.
var errStuckJob = services.Wrap(services.ErrTimeout, "recovery", "", "job stuck in flight", nil)

// Recovery escalates jobs that stayed in flight past the staleness thresholds.
type Recovery struct {
	*deps
	stuckAfter  time.Duration
	retryWindow time.Duration
	cancelAfter time.Duration
	retryDelay  time.Duration
}

// RecoveryOutcome records the action taken for one stuck job.
type RecoveryOutcome struct {
	JobID       int64
	Action      RecoveryAction
	Age         time.Duration
	Replacement *queue.Job
}

// Tick scans for stuck jobs and applies the tier for each one's age.
func (r *Recovery) Tick(ctx context.Context) (int, error) {
	outcomes, err := r.Recover(ctx)
	return len(outcomes), err
}

// Recover runs one scan and reports every action that took effect.
func (r *Recovery) Recover(ctx context.Context) ([]RecoveryOutcome, error) {
	now := r.store.Now()
	jobs, err := r.store.StuckJobs(ctx, now.Add(-r.stuckAfter))
	if err != nil {
		return nil, err
	}
	var outcomes []RecoveryOutcome
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		jobCtx := jobContext(ctx, "recovery", job)
		outcome, err := r.recoverJob(jobCtx, job, job.Age(now))
		if err != nil {
			jobLogger(jobCtx, r.logger, job).Error("stuck job recovery failed",
				logging.Error(err),
				logging.EventType("recovery_failed"),
				logging.ErrorHint("check database access"),
			)
			continue
		}
		if outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}
	return outcomes, nil
}

// Tier returns the action for a job stuck for age.
func (r *Recovery) Tier(job *queue.Job, age time.Duration) RecoveryAction {
	switch {
	case age >= r.cancelAfter:
		return ActionCancel
	case age < r.retryWindow:
		if job.Metadata.IsRecoveryReplacement() {
			return ActionFail
		}
		return ActionReplace
	case job.CanRetry():
		return ActionReplace
	default:
		return ActionFail
	}
}

func (r *Recovery) recoverJob(ctx context.Context, job *queue.Job, age time.Duration) (*RecoveryOutcome, error) {
	action := r.Tier(job, age)
	reason := fmt.Sprintf("stuck in %s for %s", job.Status, age.Round(time.Minute))
	exec, err := r.executionFor(ctx, job)
	if err != nil {
		return nil, err
	}

	outcome := &RecoveryOutcome{JobID: job.ID, Action: action, Age: age}
	switch action {
	case ActionReplace:
		replacement, err := r.replace(ctx, job, exec, reason)
		if err != nil {
			return nil, err
		}
		if replacement == nil {
			return nil, nil
		}
		outcome.Replacement = replacement
	default:
		disposition := failures.DispositionFail
		if action == ActionCancel {
			disposition = failures.DispositionCancel
		}
		res, err := r.failures.HandleJobFailure(ctx, failures.Failure{
			Job:         job,
			ExecutionID: executionID(exec),
			Err:         errStuckJob,
			Message:     reason,
			Disposition: disposition,
			Silent:      true,
		})
		if err != nil {
			return nil, err
		}
		if !res.Applied {
			return nil, nil
		}
	}

	r.metrics.RecoveryAction(string(action))
	attrs := []logging.Attr{
		logging.String("action", string(action)),
		logging.Duration("stuck_for", age),
		logging.String("reason", reason),
		logging.Alert("stuck_job"),
		logging.EventType("stuck_job_recovered"),
	}
	if outcome.Replacement != nil {
		attrs = append(attrs, logging.Int64("replacement_job_id", outcome.Replacement.ID))
	}
	jobLogger(ctx, r.logger, job).Warn("stuck job recovered", logging.Args(attrs...)...)
	if err := r.notifier.NotifyRecoveryAction(ctx, job.DocumentID, string(job.Stage), string(action), reason); err != nil {
		r.logger.Debug("recovery notification failed", logging.Error(err))
	}
	return outcome, nil
}

// replace fails the stuck job and creates its replacement in one transaction,
// then records the audit row and resets the document.
func (r *Recovery) replace(ctx context.Context, job *queue.Job, exec *queue.Execution, reason string) (*queue.Job, error) {
	replacement, err := r.store.ReplaceStuckJob(ctx, job.ID, reason, r.retryDelay)
	if err != nil {
		return nil, err
	}
	if replacement == nil {
		return nil, nil
	}
	if exec != nil {
		if _, err := r.tracker.Fail(ctx, exec, reason); err != nil {
			return replacement, err
		}
	}
	if _, err := r.store.RecordError(ctx, queue.ProcessingError{
		JobID:       job.ID,
		DocumentID:  job.DocumentID,
		Stage:       job.Stage,
		Category:    string(failures.Categorize(errStuckJob)),
		Message:     reason,
		Attempt:     job.RetryCount,
		IsRetryable: true,
		RetryAt:     &replacement.ScheduledAt,
	}); err != nil {
		return replacement, err
	}
	pending := queue.StageStatusPending
	if err := r.store.UpdateDocumentStage(ctx, job.DocumentID, queue.DocumentStageUpdate{
		StageStatus:    &pending,
		LastStageError: &reason,
	}); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return replacement, err
	}
	r.metrics.JobCreated(string(job.Stage), string(queue.TriggerRecovery))
	return replacement, nil
}
