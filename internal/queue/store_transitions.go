package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// retryBackoffUnit is multiplied by the attempt number when FailJob reschedules.
const retryBackoffUnit = 60 * time.Second

// ErrActiveJobExists is returned when a retry would violate the one active job
// per (document, stage) rule.
var ErrActiveJobExists = errors.New("an active job already exists for this document stage")

// MarkAsProcessing claims a PENDING job. It returns false when another worker
// claimed it first or the job is no longer pending.
func (s *Store) MarkAsProcessing(ctx context.Context, id int64) (bool, error) {
	now := s.Now()
	ok, err := s.execAffected(ctx,
		`UPDATE processing_jobs SET status = ?, started_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(StatusProcessing), s.ts(now), s.ts(now), id, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark job %d processing: %w", id, err)
	}
	return ok, nil
}

// MarkWaitingForRemote records the remote task and moves a PROCESSING job to
// WAITING_FOR_REMOTE.
func (s *Store) MarkWaitingForRemote(ctx context.Context, id int64, task RemoteTask) (bool, error) {
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = s.Now()
	}
	var applied bool
	err := s.withTx(ctx, func(tx txRunner) error {
		applied = false
		var (
			status string
			raw    sql.NullString
		)
		if err := tx.queryRow(ctx, `SELECT status, metadata_json FROM processing_jobs WHERE id = ?`, id).Scan(&status, &raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if Status(status) != StatusProcessing {
			return nil
		}
		meta, err := decodeMetadata(raw.String)
		if err != nil {
			return err
		}
		taskCopy := task
		meta.Remote = &taskCopy
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return err
		}
		res, err := tx.exec(ctx,
			`UPDATE processing_jobs SET status = ?, remote_task_id = ?, metadata_json = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(StatusWaitingForRemote), task.TaskID, nullableString(encoded), s.ts(s.Now()), id, string(StatusProcessing),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark job %d waiting for remote: %w", id, err)
	}
	return applied, nil
}

// CompleteJob marks a non-terminal job FINISHED. It returns false when the job
// was already terminal.
func (s *Store) CompleteJob(ctx context.Context, id int64) (bool, error) {
	now := s.Now()
	ok, err := s.execAffected(ctx,
		`UPDATE processing_jobs SET status = ?, completed_at = ?, updated_at = ?, error_message = NULL
         WHERE id = ? AND status IN (?, ?, ?)`,
		append([]any{string(StatusFinished), s.ts(now), s.ts(now), id}, statusArgs(activeStatuses)...)...,
	)
	if err != nil {
		return false, fmt.Errorf("complete job %d: %w", id, err)
	}
	return ok, nil
}

// FailJob records a failure. While retries remain the job goes back to PENDING
// with retry_count+1 and scheduled_at pushed out by (retry_count+1) minutes;
// otherwise it becomes FAILED. Terminal jobs are left untouched.
func (s *Store) FailJob(ctx context.Context, id int64, message string) (FailOutcome, error) {
	var outcome FailOutcome
	err := s.withTx(ctx, func(tx txRunner) error {
		outcome = FailOutcome{}
		var (
			status     string
			retryCount int
			maxRetries int
			scheduled  nullTime
		)
		if err := tx.queryRow(ctx,
			`SELECT status, retry_count, max_retries, scheduled_at FROM processing_jobs WHERE id = ?`, id,
		).Scan(&status, &retryCount, &maxRetries, &scheduled); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		outcome.Status = Status(status)
		outcome.RetryCount = retryCount
		outcome.ScheduledAt = scheduled.Time
		if !Status(status).Active() {
			return nil
		}

		now := s.Now()
		var res sql.Result
		var err error
		if retryCount < maxRetries {
			next := now.Add(time.Duration(retryCount+1) * retryBackoffUnit)
			res, err = tx.exec(ctx,
				`UPDATE processing_jobs
                 SET status = ?, retry_count = ?, scheduled_at = ?, error_message = ?,
                     started_at = NULL, remote_task_id = NULL, updated_at = ?
                 WHERE id = ? AND status IN (?, ?, ?)`,
				append([]any{string(StatusPending), retryCount + 1, s.ts(next), message, s.ts(now), id}, statusArgs(activeStatuses)...)...,
			)
			outcome.Status = StatusPending
			outcome.RetryCount = retryCount + 1
			outcome.ScheduledAt = next
		} else {
			res, err = tx.exec(ctx,
				`UPDATE processing_jobs
                 SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
                 WHERE id = ? AND status IN (?, ?, ?)`,
				append([]any{string(StatusFailed), message, s.ts(now), s.ts(now), id}, statusArgs(activeStatuses)...)...,
			)
			outcome.Status = StatusFailed
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		outcome.Applied = n > 0
		return nil
	})
	if err != nil {
		return FailOutcome{}, fmt.Errorf("fail job %d: %w", id, err)
	}
	return outcome, nil
}

// FailJobTerminal marks a non-terminal job FAILED regardless of remaining
// retries. Used when a failure must not be rescheduled.
func (s *Store) FailJobTerminal(ctx context.Context, id int64, message string) (bool, error) {
	now := s.Now()
	ok, err := s.execAffected(ctx,
		`UPDATE processing_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		append([]any{string(StatusFailed), message, s.ts(now), s.ts(now), id}, statusArgs(activeStatuses)...)...,
	)
	if err != nil {
		return false, fmt.Errorf("fail job %d: %w", id, err)
	}
	return ok, nil
}

// CancelJob marks a non-terminal job CANCELLED.
func (s *Store) CancelJob(ctx context.Context, id int64, reason string) (bool, error) {
	now := s.Now()
	ok, err := s.execAffected(ctx,
		`UPDATE processing_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		append([]any{string(StatusCancelled), nullableString(reason), s.ts(now), s.ts(now), id}, statusArgs(activeStatuses)...)...,
	)
	if err != nil {
		return false, fmt.Errorf("cancel job %d: %w", id, err)
	}
	return ok, nil
}

// RetryJob puts a FAILED or CANCELLED job back to PENDING, due immediately.
// The attempt counter is bumped so error audit rows stay distinguishable.
func (s *Store) RetryJob(ctx context.Context, id int64) (*Job, error) {
	now := s.Now()
	ok, err := s.execAffected(ctx,
		`UPDATE processing_jobs
         SET status = ?, retry_count = retry_count + 1, scheduled_at = ?, started_at = NULL, completed_at = NULL,
             error_message = NULL, remote_task_id = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		string(StatusPending), s.ts(now), s.ts(now), id, string(StatusFailed), string(StatusCancelled),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("retry job %d: %w", id, ErrActiveJobExists)
		}
		return nil, fmt.Errorf("retry job %d: %w", id, err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("retry job %d: %w", id, ErrNotFound)
	}
	if !ok {
		return job, fmt.Errorf("retry job %d: job is %s, only FAILED or CANCELLED jobs can be retried", id, job.Status)
	}
	if err := s.UpdateJobMetadata(ctx, id, func(meta *JobMetadata) {
		meta.Trigger = TriggerRetry
		meta.Remote = nil
		meta.Progress = nil
		meta.Poll = nil
	}); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// ReplaceStuckJob atomically fails an in-flight job and creates its
// replacement (same stage, priority+1, scheduled after delay). It returns nil
// when the original was no longer in flight.
func (s *Store) ReplaceStuckJob(ctx context.Context, id int64, reason string, delay time.Duration) (*Job, error) {
	var replacement *Job
	err := s.withTx(ctx, func(tx txRunner) error {
		replacement = nil
		original, err := scanJob(tx.queryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		now := s.Now()
		res, err := tx.exec(ctx,
			`UPDATE processing_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			append([]any{string(StatusFailed), reason, s.ts(now), s.ts(now), id}, statusArgs(inFlightStatuses)...)...,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		meta := JobMetadata{
			Trigger:  TriggerRecovery,
			Source:   original.Metadata.Source,
			Recovery: &RecoveryInfo{ReplacesJobID: original.ID, Reason: reason},
		}
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return err
		}
		var newID int64
		if err := tx.queryRow(ctx,
			`INSERT INTO processing_jobs
             (document_id, stage, status, priority, scheduled_at, created_at, updated_at, retry_count, max_retries, metadata_json)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             RETURNING id`,
			original.DocumentID,
			string(original.Stage),
			string(StatusPending),
			original.Priority+1,
			s.ts(now.Add(delay)),
			s.ts(now),
			s.ts(now),
			original.RetryCount+1,
			original.MaxRetries,
			nullableString(encoded),
		).Scan(&newID); err != nil {
			return err
		}
		replacement, err = scanJob(tx.queryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, newID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replace stuck job %d: %w", id, err)
	}
	return replacement, nil
}
