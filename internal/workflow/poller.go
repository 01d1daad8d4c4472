package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docflow/internal/failures"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/remote"
)

// Poller reconciles jobs waiting on the remote worker.
type Poller struct {
	*deps
	completer  *completer
	batchSize  int
	staleAfter time.Duration
}

// Tick polls up to one batch of waiting jobs and returns how many reached a
// terminal remote state.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	jobs, err := p.store.JobsAwaitingRemote(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if p.poll(jobContext(ctx, "poller", job), job) {
			settled++
		}
	}
	return settled, nil
}

func (p *Poller) poll(ctx context.Context, job *queue.Job) bool {
	logger := jobLogger(ctx, p.logger, job)

	task, err := p.remote.Status(ctx, job.RemoteTaskID)
	if err != nil {
		return p.pollFailed(ctx, job, err)
	}

	switch task.Status {
	case remote.StatusCompleted:
		res, err := p.completer.Complete(ctx, Completion{
			Job:    job,
			TaskID: job.RemoteTaskID,
			Result: task.Result,
			Source: SourcePoller,
		})
		if err != nil {
			return p.pollFailed(ctx, job, err)
		}
		return res.Applied || res.Rejected
	case remote.StatusFailed:
		execID := p.failureExecutionID(ctx, logger, job)
		message := strings.TrimSpace(task.Error)
		if message == "" {
			message = fmt.Sprintf("remote task %s failed", job.RemoteTaskID)
		}
		if _, err := p.failures.HandleJobFailure(ctx, failures.Failure{
			Job:         job,
			ExecutionID: execID,
			Err:         errors.New(message),
		}); err != nil {
			logger.Error("failed to record remote failure",
				logging.Error(err),
				logging.EventType("failure_persist_failed"),
				logging.ErrorHint("check database access"),
			)
			return false
		}
		return true
	default:
		if err := p.store.UpdateJobMetadata(ctx, job.ID, func(m *queue.JobMetadata) {
			m.Progress = &queue.Progress{Percent: task.Progress, Step: task.CurrentStep, UpdatedAt: p.store.Now()}
			m.Poll = nil
		}); err != nil {
			logger.Warn("failed to record remote progress", logging.Error(err))
		}
		logger.Debug("remote task in progress",
			logging.Float64("progress", task.Progress),
			logging.String("current_step", task.CurrentStep),
		)
		return false
	}
}

// pollFailed counts a failed status check and force-fails the job once it is
// older than the staleness window.
func (p *Poller) pollFailed(ctx context.Context, job *queue.Job, pollErr error) bool {
	logger := jobLogger(ctx, p.logger, job)
	p.metrics.PollError()

	now := p.store.Now()
	if err := p.store.UpdateJobMetadata(ctx, job.ID, func(m *queue.JobMetadata) {
		count := 1
		if m.Poll != nil {
			count = m.Poll.Failures + 1
		}
		m.Poll = &queue.PollState{Failures: count, LastError: failures.Message(pollErr), LastAt: now}
	}); err != nil {
		logger.Warn("failed to record poll failure", logging.Error(err))
	}

	age := now.Sub(job.CreatedAt)
	if p.staleAfter <= 0 || age < p.staleAfter {
		logger.Warn("remote status check failed; will retry",
			logging.Error(pollErr),
			logging.Duration("job_age", age),
			logging.EventType("poll_failed"),
			logging.ErrorHint("check remote worker reachability"),
		)
		return false
	}

	if _, err := p.failures.HandleJobFailure(ctx, failures.Failure{
		Job:         job,
		ExecutionID: p.failureExecutionID(ctx, logger, job),
		Err:         fmt.Errorf("%w: %w", failures.ErrRemoteUnavailable, pollErr),
		Message:     fmt.Sprintf("remote task %s unreachable for %s: %s", job.RemoteTaskID, age.Round(time.Second), failures.Message(pollErr)),
		Disposition: failures.DispositionFail,
	}); err != nil {
		logger.Error("failed to force-fail stale job",
			logging.Error(err),
			logging.EventType("failure_persist_failed"),
			logging.ErrorHint("check database access"),
		)
		return false
	}
	return true
}
