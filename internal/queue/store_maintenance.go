package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(1) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing, StatusWaitingForRemote:
			health.InFlight += count
		case StatusFinished:
			health.Finished += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// JobsNeedingCleanup returns FINISHED jobs with a remote task that completed
// before finishedBefore, are not cleaned up, and are not inside a cleanup
// retry-after window.
func (s *Store) JobsNeedingCleanup(ctx context.Context, finishedBefore time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
         WHERE status = ?
           AND cleaned_up = ?
           AND remote_task_id IS NOT NULL
           AND completed_at IS NOT NULL AND completed_at < ?
           AND (cleanup_retry_after IS NULL OR cleanup_retry_after <= ?)
         ORDER BY completed_at ASC, id ASC
         LIMIT ?`,
		string(StatusFinished), false, s.ts(finishedBefore), s.ts(s.Now()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs needing cleanup: %w", err)
	}
	return collectJobs(rows)
}

// MarkCleanedUp records a successful remote cleanup.
func (s *Store) MarkCleanedUp(ctx context.Context, id int64, stats CleanupStats) error {
	now := s.Now()
	if _, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs
         SET cleaned_up = ?, cleaned_up_at = ?, files_deleted = ?, bytes_freed = ?,
             cleanup_attempted_at = ?, cleanup_retry_after = NULL, updated_at = ?
         WHERE id = ?`,
		true, s.ts(now), stats.FilesDeleted, stats.BytesFreed, s.ts(now), s.ts(now), id,
	); err != nil {
		return fmt.Errorf("mark job %d cleaned up: %w", id, err)
	}
	return nil
}

// MarkCleanupAttempt records a failed cleanup and when to try again.
func (s *Store) MarkCleanupAttempt(ctx context.Context, id int64, retryAfter time.Time) error {
	now := s.Now()
	if _, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs SET cleanup_attempted_at = ?, cleanup_retry_after = ?, updated_at = ? WHERE id = ?`,
		s.ts(now), s.ts(retryAfter), s.ts(now), id,
	); err != nil {
		return fmt.Errorf("mark job %d cleanup attempt: %w", id, err)
	}
	return nil
}

// CleanupCompletedJobs deletes terminal jobs whose completion is older than
// the retention window. Executions keep their history with a NULL job_id.
func (s *Store) CleanupCompletedJobs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, nil
	}
	cutoff := s.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	res, err := s.execWithRetry(ctx,
		`DELETE FROM processing_jobs
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(StatusFinished), string(StatusFailed), string(StatusCancelled), s.ts(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup completed jobs: %w", err)
	}
	return res.RowsAffected()
}
