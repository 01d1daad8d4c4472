package stageexec

import (
	"context"

	"docflow/internal/queue"
	"docflow/internal/stage"
)

// StageState summarises the latest execution of one stage.
type StageState struct {
	Stage       stage.Stage
	Status      queue.ExecutionStatus
	Eligible    bool
	ExecutionID int64
	Error       string
}

// PipelineStatus is the derived progress of a document through all stages.
type PipelineStatus struct {
	DocumentID string
	Stages     []StageState
	// CompletedStages counts stages with an eligible execution.
	CompletedStages int
	Completed       bool
	Failed          bool
	Progress        float64
	NextStage       stage.Stage
}

// PipelineStatus derives per-stage state from the latest executions.
func (t *Tracker) PipelineStatus(ctx context.Context, documentID string) (PipelineStatus, error) {
	latest, err := t.store.LatestExecutions(ctx, documentID)
	if err != nil {
		return PipelineStatus{}, err
	}
	status := PipelineStatus{DocumentID: documentID}
	for _, st := range stage.Order() {
		state := StageState{Stage: st}
		if exec := latest[st]; exec != nil {
			state.Status = exec.Status
			state.Eligible = exec.Eligible()
			state.ExecutionID = exec.ID
			state.Error = exec.ErrorMessage
			if exec.Status == queue.ExecutionFailed {
				status.Failed = true
			}
		}
		if state.Eligible {
			status.CompletedStages++
		}
		status.Stages = append(status.Stages, state)
	}
	status.Progress = float64(status.CompletedStages) / float64(stage.Count())
	next, ok := nextFrom(latest)
	status.Completed = !ok
	if ok {
		status.NextStage = next
	}
	return status, nil
}
