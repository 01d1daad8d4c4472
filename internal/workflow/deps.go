package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"docflow/internal/artifacts"
	"docflow/internal/config"
	"docflow/internal/failures"
	"docflow/internal/handlers"
	"docflow/internal/logging"
	"docflow/internal/metrics"
	"docflow/internal/notifications"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/services"
	"docflow/internal/stageexec"
)

// RemoteWorker is the remote stage worker protocol. remote.Client implements it.
type RemoteWorker interface {
	Submit(ctx context.Context, req remote.SubmitRequest) (remote.SubmitResponse, error)
	Status(ctx context.Context, taskID string) (remote.Task, error)
	Files(ctx context.Context, taskID string) ([]remote.FileInfo, error)
	Download(ctx context.Context, taskID, filename string) (io.ReadCloser, error)
	Cleanup(ctx context.Context, taskID string) (remote.CleanupResult, error)
}

// deps is the wiring shared by every worker.
type deps struct {
	cfg       *config.Config
	store     *queue.Store
	tracker   *stageexec.Tracker
	remote    RemoteWorker
	artifacts *artifacts.Store
	failures  *failures.Handler
	sources   *handlers.SourceLocator
	notifier  notifications.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func (d *deps) handlerEnv() handlers.Env {
	return handlers.Env{
		Files:     d.store,
		Artifacts: d.artifacts,
		Sources:   d.sources,
	}
}

// executionFor finds the execution started for a job.
func (d *deps) executionFor(ctx context.Context, job *queue.Job) (*queue.Execution, error) {
	if job.Metadata.Execution != nil && job.Metadata.Execution.ID > 0 {
		exec, err := d.store.GetExecution(ctx, job.Metadata.Execution.ID)
		if err != nil || exec != nil {
			return exec, err
		}
	}
	return d.store.ExecutionForJob(ctx, job.ID)
}

// ownedExecution returns execution id when it belongs to job. A zero or
// unknown id falls back to the job's own execution.
func (d *deps) ownedExecution(ctx context.Context, job *queue.Job, id int64) (*queue.Execution, error) {
	if id > 0 {
		exec, err := d.store.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec != nil && exec.JobID != job.ID {
			return nil, services.Wrap(services.ErrValidation, "workflow", "execution",
				fmt.Sprintf("execution %d does not belong to job %d", id, job.ID), nil)
		}
		if exec != nil {
			return exec, nil
		}
	}
	return d.executionFor(ctx, job)
}

// failureExecutionID resolves the execution a failure is recorded against.
// A lookup error is logged and the failure is recorded without one.
func (d *deps) failureExecutionID(ctx context.Context, logger *slog.Logger, job *queue.Job) int64 {
	exec, err := d.executionFor(ctx, job)
	if err != nil {
		logger.Warn("execution lookup failed; recording failure without execution",
			logging.Error(err),
			logging.EventType("execution_lookup_failed"),
			logging.ErrorHint("check database access"),
		)
	}
	return executionID(exec)
}

func executionID(exec *queue.Execution) int64 {
	if exec == nil {
		return 0
	}
	return exec.ID
}
