package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docflow/internal/failures"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// Store is the persistence surface of the tracker.
type Store interface {
	StartExecution(ctx context.Context, documentID string, st stage.Stage, jobID int64, inputs []string) (*queue.Execution, error)
	SetExecutionInputs(ctx context.Context, id int64, inputs []string) error
	CompleteExecution(ctx context.Context, id int64, outputs []string, meta queue.ExecutionMetadata) (bool, error)
	FailExecution(ctx context.Context, id int64, message string) (bool, error)
	LatestExecution(ctx context.Context, documentID string, st stage.Stage) (*queue.Execution, error)
	LatestExecutions(ctx context.Context, documentID string) (map[stage.Stage]*queue.Execution, error)
	UpdateDocumentStage(ctx context.Context, id string, update queue.DocumentStageUpdate) error
	ResolveErrors(ctx context.Context, documentID string, st stage.Stage) (int64, error)
}

// Tracker records stage executions and derives pipeline progress from them.
type Tracker struct {
	store  Store
	logger *slog.Logger
}

// NewTracker builds a tracker over store.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{store: store, logger: logging.NewComponentLogger(logger, "stage-tracker")}
}

// Start opens a RUNNING execution for the job and marks the document stage
// RUNNING with its last error cleared.
func (t *Tracker) Start(ctx context.Context, job *queue.Job, inputs []string) (*queue.Execution, error) {
	if job == nil {
		return nil, errors.New("start execution: job is required")
	}
	exec, err := t.store.StartExecution(ctx, job.DocumentID, job.Stage, job.ID, inputs)
	if err != nil {
		return nil, err
	}
	current := job.Stage
	running := queue.StageStatusRunning
	cleared := ""
	if err := t.store.UpdateDocumentStage(ctx, job.DocumentID, queue.DocumentStageUpdate{
		CurrentStage:   &current,
		StageStatus:    &running,
		LastStageError: &cleared,
	}); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return exec, fmt.Errorf("mark document stage running: %w", err)
	}

	t.logFor(ctx, job.DocumentID, job.Stage).Info("stage started",
		logging.Int64("execution_id", exec.ID),
		logging.JobID(job.ID),
		logging.EventType("stage_start"),
	)
	return exec, nil
}

// SetInputs records resolved dependency inputs on a running execution.
func (t *Tracker) SetInputs(ctx context.Context, exec *queue.Execution, inputs []string) error {
	if exec == nil {
		return nil
	}
	exec.InputFiles = inputs
	return t.store.SetExecutionInputs(ctx, exec.ID, inputs)
}

// Complete marks a RUNNING execution COMPLETED. It returns false, and changes
// nothing else, when the execution was already terminal.
func (t *Tracker) Complete(ctx context.Context, exec *queue.Execution, outputs []string, meta queue.ExecutionMetadata) (bool, error) {
	if exec == nil {
		return false, errors.New("complete execution: execution is required")
	}
	ok, err := t.store.CompleteExecution(ctx, exec.ID, outputs, meta)
	if err != nil || !ok {
		return ok, err
	}
	if _, err := t.store.ResolveErrors(ctx, exec.DocumentID, exec.Stage); err != nil {
		t.logFor(ctx, exec.DocumentID, exec.Stage).Warn("failed to resolve earlier stage errors",
			logging.Error(err),
			logging.EventType("error_resolve_failed"),
			logging.ErrorHint("check database access"),
		)
	}
	completed := queue.StageStatusCompleted
	if err := t.store.UpdateDocumentStage(ctx, exec.DocumentID, queue.DocumentStageUpdate{StageStatus: &completed}); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return true, fmt.Errorf("mark document stage completed: %w", err)
	}

	t.logFor(ctx, exec.DocumentID, exec.Stage).Info("stage completed",
		logging.Int64("execution_id", exec.ID),
		logging.Int("output_files", len(outputs)),
		logging.Float64("execution_seconds", meta.ExecutionTimeSeconds),
		logging.EventType("stage_complete"),
	)
	return true, nil
}

// Fail marks a RUNNING execution FAILED.
func (t *Tracker) Fail(ctx context.Context, exec *queue.Execution, message string) (bool, error) {
	if exec == nil {
		return false, nil
	}
	return t.store.FailExecution(ctx, exec.ID, message)
}

// LatestExecution returns the authoritative execution for (document, stage).
func (t *Tracker) LatestExecution(ctx context.Context, documentID string, st stage.Stage) (*queue.Execution, error) {
	return t.store.LatestExecution(ctx, documentID, st)
}

// NextStage returns the first stage in canonical order without an eligible
// execution. ok is false when every stage is complete.
func (t *Tracker) NextStage(ctx context.Context, documentID string) (stage.Stage, bool, error) {
	latest, err := t.store.LatestExecutions(ctx, documentID)
	if err != nil {
		return "", false, err
	}
	next, ok := nextFrom(latest)
	return next, ok, nil
}

// AdvanceToNextStage points the document at its next stage with status
// PENDING. When the pipeline is complete the document is marked COMPLETED on
// the last stage and ok is false.
func (t *Tracker) AdvanceToNextStage(ctx context.Context, documentID string) (stage.Stage, bool, error) {
	next, ok, err := t.NextStage(ctx, documentID)
	if err != nil {
		return "", false, err
	}
	update := queue.DocumentStageUpdate{}
	if ok {
		pending := queue.StageStatusPending
		update.CurrentStage = &next
		update.StageStatus = &pending
	} else {
		order := stage.Order()
		last := order[len(order)-1]
		completed := queue.StageStatusCompleted
		update.CurrentStage = &last
		update.StageStatus = &completed
	}
	if err := t.store.UpdateDocumentStage(ctx, documentID, update); err != nil {
		return "", false, fmt.Errorf("advance document %s: %w", documentID, err)
	}
	return next, ok, nil
}

// DependencyInputs returns the output files of the stage preceding st. The
// first stage has no dependency and yields nil.
func (t *Tracker) DependencyInputs(ctx context.Context, documentID string, st stage.Stage) ([]string, error) {
	prev, ok := st.Previous()
	if !ok {
		return nil, nil
	}
	exec, err := t.store.LatestExecution(ctx, documentID, prev)
	if err != nil {
		return nil, err
	}
	if !exec.Eligible() {
		return nil, fmt.Errorf("%s requires completed %s output for document %s: %w", st, prev, documentID, failures.ErrMissingDependency)
	}
	out := make([]string, len(exec.OutputFiles))
	copy(out, exec.OutputFiles)
	return out, nil
}

func (t *Tracker) logFor(ctx context.Context, documentID string, st stage.Stage) *slog.Logger {
	ctx = services.WithStage(services.WithDocumentID(ctx, documentID), string(st))
	return logging.WithContext(ctx, t.logger)
}

func nextFrom(latest map[stage.Stage]*queue.Execution) (stage.Stage, bool) {
	for _, st := range stage.Order() {
		if !latest[st].Eligible() {
			return st, true
		}
	}
	return "", false
}
