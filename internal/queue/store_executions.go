package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docflow/internal/stage"
)

// StartExecution inserts a RUNNING execution for the job's stage.
func (s *Store) StartExecution(ctx context.Context, documentID string, st stage.Stage, jobID int64, inputs []string) (*Execution, error) {
	inputsJSON, err := encodeJSON(nonNilStrings(inputs))
	if err != nil {
		return nil, fmt.Errorf("encode execution inputs: %w", err)
	}
	now := s.Now()
	var id int64
	err = retryOnBusy(ensureContext(ctx), func() error {
		return s.queryRow(ctx,
			`INSERT INTO stage_executions (document_id, stage, job_id, status, started_at, input_files_json)
             VALUES (?, ?, ?, ?, ?, ?)
             RETURNING id`,
			documentID, string(st), nullableInt64(jobID), string(ExecutionRunning), s.ts(now), inputsJSON,
		).Scan(&id)
	})
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	return s.GetExecution(ctx, id)
}

// SetExecutionInputs records the resolved dependency inputs on a running execution.
func (s *Store) SetExecutionInputs(ctx context.Context, id int64, inputs []string) error {
	inputsJSON, err := encodeJSON(nonNilStrings(inputs))
	if err != nil {
		return fmt.Errorf("encode execution inputs: %w", err)
	}
	if _, err := s.execWithRetry(ctx, `UPDATE stage_executions SET input_files_json = ? WHERE id = ?`, inputsJSON, id); err != nil {
		return fmt.Errorf("set execution inputs: %w", err)
	}
	return nil
}

// CompleteExecution marks a RUNNING execution COMPLETED. It returns false when
// the execution was already terminal.
func (s *Store) CompleteExecution(ctx context.Context, id int64, outputs []string, meta ExecutionMetadata) (bool, error) {
	outputsJSON, err := encodeJSON(nonNilStrings(outputs))
	if err != nil {
		return false, fmt.Errorf("encode execution outputs: %w", err)
	}
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return false, fmt.Errorf("encode execution metadata: %w", err)
	}
	ok, err := s.execAffected(ctx,
		`UPDATE stage_executions SET status = ?, completed_at = ?, output_files_json = ?, metadata_json = ?, error_message = NULL
         WHERE id = ? AND status = ?`,
		string(ExecutionCompleted), s.ts(s.Now()), outputsJSON, metaJSON, id, string(ExecutionRunning),
	)
	if err != nil {
		return false, fmt.Errorf("complete execution %d: %w", id, err)
	}
	return ok, nil
}

// FailExecution marks a RUNNING execution FAILED.
func (s *Store) FailExecution(ctx context.Context, id int64, message string) (bool, error) {
	ok, err := s.execAffected(ctx,
		`UPDATE stage_executions SET status = ?, completed_at = ?, error_message = ?
         WHERE id = ? AND status = ?`,
		string(ExecutionFailed), s.ts(s.Now()), message, id, string(ExecutionRunning),
	)
	if err != nil {
		return false, fmt.Errorf("fail execution %d: %w", id, err)
	}
	return ok, nil
}

// GetExecution fetches an execution by ID, or nil when missing.
func (s *Store) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	exec, err := scanExecution(s.queryRow(ctx, `SELECT `+executionColumns+` FROM stage_executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, err)
	}
	return exec, nil
}

// ExecutionForJob returns the newest execution started for a job, or nil.
func (s *Store) ExecutionForJob(ctx context.Context, jobID int64) (*Execution, error) {
	exec, err := scanExecution(s.queryRow(ctx,
		`SELECT `+executionColumns+` FROM stage_executions WHERE job_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execution for job %d: %w", jobID, err)
	}
	return exec, nil
}

// LatestExecution returns the most recent execution for (document, stage), or nil.
func (s *Store) LatestExecution(ctx context.Context, documentID string, st stage.Stage) (*Execution, error) {
	exec, err := scanExecution(s.queryRow(ctx,
		`SELECT `+executionColumns+` FROM stage_executions
         WHERE document_id = ? AND stage = ?
         ORDER BY started_at DESC, id DESC LIMIT 1`,
		documentID, string(st),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest execution: %w", err)
	}
	return exec, nil
}

// LatestExecutions returns the most recent execution per stage for a document.
func (s *Store) LatestExecutions(ctx context.Context, documentID string) (map[stage.Stage]*Execution, error) {
	rows, err := s.query(ctx,
		`SELECT `+executionColumns+` FROM stage_executions
         WHERE document_id = ?
         ORDER BY started_at DESC, id DESC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("latest executions: %w", err)
	}
	execs, err := collectExecutions(rows)
	if err != nil {
		return nil, err
	}
	latest := make(map[stage.Stage]*Execution, stage.Count())
	for _, exec := range execs {
		if _, seen := latest[exec.Stage]; !seen {
			latest[exec.Stage] = exec
		}
	}
	return latest, nil
}

// ListExecutions returns the execution history of a document, newest first.
func (s *Store) ListExecutions(ctx context.Context, documentID string, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM stage_executions WHERE document_id = ? ORDER BY started_at DESC, id DESC`
	args := []any{documentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
