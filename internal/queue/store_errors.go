package queue

import (
	"context"
	"fmt"
	"strings"

	"docflow/internal/stage"
)

// RecordError appends a processing error audit row.
func (s *Store) RecordError(ctx context.Context, rec ProcessingError) (*ProcessingError, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.Now()
	}
	if strings.TrimSpace(rec.Category) == "" {
		rec.Category = "UNKNOWN"
	}
	var id int64
	err := retryOnBusy(ensureContext(ctx), func() error {
		return s.queryRow(ctx,
			`INSERT INTO processing_errors
             (job_id, document_id, stage, category, message, stack, attempt, is_retryable, retry_at, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             RETURNING id`,
			nullableInt64(rec.JobID),
			rec.DocumentID,
			string(rec.Stage),
			rec.Category,
			rec.Message,
			nullableString(rec.Stack),
			rec.Attempt,
			rec.IsRetryable,
			s.tsPtr(rec.RetryAt),
			s.ts(rec.CreatedAt),
		).Scan(&id)
	})
	if err != nil {
		return nil, fmt.Errorf("record processing error: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

// ListErrors returns audit rows matching filter, newest first.
func (s *Store) ListErrors(ctx context.Context, filter ErrorFilter) ([]*ProcessingError, error) {
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
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, strings.ToUpper(filter.Category))
	}
	if filter.UnresolvedOnly {
		where = append(where, "resolved_at IS NULL")
	}
	query := `SELECT ` + errorColumns + ` FROM processing_errors`
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
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()
	var out []*ProcessingError
	for rows.Next() {
		rec, err := scanProcessingError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResolveErrors stamps resolved_at on every unresolved audit row of the
// document stage. Called when a later execution of that stage completes.
func (s *Store) ResolveErrors(ctx context.Context, documentID string, st stage.Stage) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_errors SET resolved_at = ?
         WHERE document_id = ? AND stage = ? AND resolved_at IS NULL`,
		s.ts(s.Now()), documentID, string(st),
	)
	if err != nil {
		return 0, fmt.Errorf("resolve errors: %w", err)
	}
	return res.RowsAffected()
}
