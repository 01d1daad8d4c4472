package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docflow/internal/stage"
)

// CreateJob inserts a PENDING job for (document, stage) unless an active job
// already exists, in which case that job is returned and created is false.
func (s *Store) CreateJob(ctx context.Context, req NewJob) (*Job, bool, error) {
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.DocumentID == "" {
		return nil, false, errors.New("create job: document id is required")
	}
	if !req.Stage.Valid() {
		return nil, false, fmt.Errorf("create job: invalid stage %q", req.Stage)
	}
	if req.MaxRetries < 0 {
		req.MaxRetries = 0
	}

	now := s.Now()
	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, false, err
	}

	var (
		job     *Job
		created bool
	)
	err = s.withTx(ctx, func(tx txRunner) error {
		created = false
		existing, err := scanJob(tx.queryRow(ctx,
			`SELECT `+jobColumns+` FROM processing_jobs
             WHERE document_id = ? AND stage = ? AND status IN (?, ?, ?)
             ORDER BY id LIMIT 1`,
			append([]any{req.DocumentID, string(req.Stage)}, statusArgs(activeStatuses)...)...,
		))
		if err == nil {
			job = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup active job: %w", err)
		}

		var id int64
		if err := tx.queryRow(ctx,
			`INSERT INTO processing_jobs
             (document_id, stage, status, priority, scheduled_at, created_at, updated_at, retry_count, max_retries, metadata_json)
             VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
             RETURNING id`,
			req.DocumentID,
			string(req.Stage),
			string(StatusPending),
			req.Priority,
			s.ts(scheduledAt),
			s.ts(now),
			s.ts(now),
			req.MaxRetries,
			nullableString(metadata),
		).Scan(&id); err != nil {
			return err
		}
		inserted, err := scanJob(tx.queryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("reload created job: %w", err)
		}
		job = inserted
		created = true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent creator won the slot; hand back its job.
			existing, lookupErr := s.ActiveJob(ctx, req.DocumentID, req.Stage)
			if lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	return job, created, nil
}

// GetJob fetches a job by ID. It returns nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	job, err := scanJob(s.queryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// ActiveJob returns the non-terminal job for (document, stage), or nil.
func (s *Store) ActiveJob(ctx context.Context, documentID string, st stage.Stage) (*Job, error) {
	job, err := scanJob(s.queryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
         WHERE document_id = ? AND stage = ? AND status IN (?, ?, ?)
         ORDER BY id LIMIT 1`,
		append([]any{documentID, string(st)}, statusArgs(activeStatuses)...)...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return job, nil
}

// HasActiveJob reports whether any stage of the document has an active job.
func (s *Store) HasActiveJob(ctx context.Context, documentID string) (bool, error) {
	var count int
	err := s.queryRow(ctx,
		`SELECT COUNT(1) FROM processing_jobs WHERE document_id = ? AND status IN (?, ?, ?)`,
		append([]any{documentID}, statusArgs(activeStatuses)...)...,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	return count > 0, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if filter.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		args = append(args, statusArgs(filter.Statuses)...)
	}
	query := `SELECT ` + jobColumns + ` FROM processing_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// PendingJobs returns due PENDING jobs ordered by priority (highest first)
// then scheduled time (oldest first).
func (s *Store) PendingJobs(ctx context.Context, batchSize int) ([]*Job, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	rows, err := s.query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
         WHERE status = ? AND scheduled_at <= ?
         ORDER BY priority DESC, scheduled_at ASC, id ASC
         LIMIT ?`,
		string(StatusPending), s.ts(s.Now()), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("pending jobs: %w", err)
	}
	return collectJobs(rows)
}

// JobsAwaitingRemote returns WAITING_FOR_REMOTE jobs, least recently updated first.
func (s *Store) JobsAwaitingRemote(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
         WHERE status = ? AND remote_task_id IS NOT NULL
         ORDER BY updated_at ASC, id ASC
         LIMIT ?`,
		string(StatusWaitingForRemote), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs awaiting remote: %w", err)
	}
	return collectJobs(rows)
}

// StuckJobs returns PROCESSING or WAITING_FOR_REMOTE jobs that started before cutoff.
func (s *Store) StuckJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
         WHERE status IN (?, ?) AND started_at IS NOT NULL AND started_at < ?
         ORDER BY started_at ASC, id ASC`,
		append(statusArgs(inFlightStatuses), s.ts(cutoff))...,
	)
	if err != nil {
		return nil, fmt.Errorf("stuck jobs: %w", err)
	}
	return collectJobs(rows)
}

// FindJobByRemoteTask returns the job carrying the given remote task id, or nil.
func (s *Store) FindJobByRemoteTask(ctx context.Context, taskID string) (*Job, error) {
	job, err := scanJob(s.queryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE remote_task_id = ? ORDER BY id DESC LIMIT 1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by remote task: %w", err)
	}
	return job, nil
}

// LatestSourceHint returns the newest source URL recorded in any job metadata
// for the document.
func (s *Store) LatestSourceHint(ctx context.Context, documentID string) (string, error) {
	rows, err := s.query(ctx,
		`SELECT metadata_json FROM processing_jobs
         WHERE document_id = ? AND metadata_json IS NOT NULL
         ORDER BY created_at DESC, id DESC`,
		documentID,
	)
	if err != nil {
		return "", fmt.Errorf("source hint: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return "", err
		}
		meta, err := decodeMetadata(raw.String)
		if err != nil {
			continue
		}
		if url := meta.SourceURL(); url != "" {
			return url, nil
		}
	}
	return "", rows.Err()
}

// UpdateJobMetadata rewrites the job's metadata using mutate. The read-modify-write
// happens in one transaction.
func (s *Store) UpdateJobMetadata(ctx context.Context, id int64, mutate func(*JobMetadata)) error {
	return s.withTx(ctx, func(tx txRunner) error {
		var raw sql.NullString
		if err := tx.queryRow(ctx, `SELECT metadata_json FROM processing_jobs WHERE id = ?`, id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update job metadata %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("read job metadata: %w", err)
		}
		meta, err := decodeMetadata(raw.String)
		if err != nil {
			return fmt.Errorf("update job metadata %d: %w", id, err)
		}
		mutate(&meta)
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return err
		}
		if _, err := tx.exec(ctx,
			`UPDATE processing_jobs SET metadata_json = ?, updated_at = ? WHERE id = ?`,
			nullableString(encoded), s.ts(s.Now()), id,
		); err != nil {
			return fmt.Errorf("write job metadata: %w", err)
		}
		return nil
	})
}
