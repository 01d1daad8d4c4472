package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/stage"
)

// CreateDocument inserts a document. Missing type and mode default to FILE and AUTOMATIC.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return nil, errors.New("create document: id is required")
	}
	if doc.Type == "" {
		doc.Type = DocumentTypeFile
	}
	if doc.ProcessingMode == "" {
		doc.ProcessingMode = ModeAutomatic
	}
	now := s.Now()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO documents
         (id, title, doc_type, processing_mode, is_processing_paused, current_stage, stage_status, last_stage_error, ingest_target, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.Title,
		string(doc.Type),
		string(doc.ProcessingMode),
		doc.Paused,
		nullableString(string(doc.CurrentStage)),
		nullableString(string(doc.StageStatus)),
		nullableString(doc.LastStageError),
		nullableString(doc.IngestTarget),
		s.ts(now),
		s.ts(now),
	); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return s.GetDocument(ctx, doc.ID)
}

// GetDocument fetches a document, or nil when missing.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := scanDocument(s.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by creation.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return collectDocuments(rows)
}

// DeleteDocument removes a document with its jobs, executions and files.
func (s *Store) DeleteDocument(ctx context.Context, id string) (bool, error) {
	ok, err := s.execAffected(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return ok, nil
}

// SchedulableDocuments returns AUTOMATIC, unpaused documents that have no
// active job and whose stage status does not block scheduling (FAILED,
// CANCELLED and RUNNING documents need an operator or are in flight).
// Documents whose final stage completed are left out so they cannot fill
// the batch.
func (s *Store) SchedulableDocuments(ctx context.Context, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 1
	}
	args := []any{
		string(ModeAutomatic),
		false,
		string(StageStatusFailed),
		string(StageStatusCancelled),
		string(StageStatusRunning),
		string(stage.Ingestor),
		string(StageStatusCompleted),
	}
	args = append(args, statusArgs(activeStatuses)...)
	args = append(args, limit)
	rows, err := s.query(ctx,
		`SELECT `+documentColumns+` FROM documents d
         WHERE d.processing_mode = ?
           AND d.is_processing_paused = ?
           AND (d.stage_status IS NULL OR d.stage_status NOT IN (?, ?, ?))
           AND NOT (COALESCE(d.current_stage, '') = ? AND COALESCE(d.stage_status, '') = ?)
           AND NOT EXISTS (
               SELECT 1 FROM processing_jobs j
               WHERE j.document_id = d.id AND j.status IN (?, ?, ?)
           )
         ORDER BY d.updated_at ASC, d.id ASC
         LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("schedulable documents: %w", err)
	}
	return collectDocuments(rows)
}

// UpdateDocumentStage applies the non-nil fields of update.
func (s *Store) UpdateDocumentStage(ctx context.Context, id string, update DocumentStageUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{s.ts(s.Now())}
	if update.CurrentStage != nil {
		sets = append(sets, "current_stage = ?")
		args = append(args, nullableString(string(*update.CurrentStage)))
	}
	if update.StageStatus != nil {
		sets = append(sets, "stage_status = ?")
		args = append(args, nullableString(string(*update.StageStatus)))
	}
	if update.LastStageError != nil {
		sets = append(sets, "last_stage_error = ?")
		args = append(args, nullableString(*update.LastStageError))
	}
	args = append(args, id)
	ok, err := s.execAffected(ctx, `UPDATE documents SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("update document %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetDocumentPaused toggles the processing pause flag.
func (s *Store) SetDocumentPaused(ctx context.Context, id string, paused bool) error {
	ok, err := s.execAffected(ctx,
		`UPDATE documents SET is_processing_paused = ?, updated_at = ? WHERE id = ?`,
		paused, s.ts(s.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("pause document %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("pause document %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetDocumentMode switches between MANUAL and AUTOMATIC processing.
func (s *Store) SetDocumentMode(ctx context.Context, id string, mode ProcessingMode) error {
	ok, err := s.execAffected(ctx,
		`UPDATE documents SET processing_mode = ?, updated_at = ? WHERE id = ?`,
		string(mode), s.ts(s.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set document mode %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("set document mode %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddDocumentFile records a stored artifact. Re-adding the same
// (document, stage, filename) returns the existing record and false.
func (s *Store) AddDocumentFile(ctx context.Context, file DocumentFile) (*DocumentFile, bool, error) {
	if existing, err := s.GetDocumentFile(ctx, file.DocumentID, file.Stage, file.Filename); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO document_files (document_id, stage, filename, path, size_bytes, content_type, source_url, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		file.DocumentID,
		string(file.Stage),
		file.Filename,
		nullableString(file.Path),
		file.Size,
		nullableString(file.ContentType),
		nullableString(file.SourceURL),
		s.ts(s.Now()),
	)
	if err != nil && !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("add document file: %w", err)
	}
	stored, getErr := s.GetDocumentFile(ctx, file.DocumentID, file.Stage, file.Filename)
	if getErr != nil {
		return nil, false, getErr
	}
	return stored, err == nil, nil
}

// UpdateDocumentFileLocation repoints a file record at a new on-disk copy.
func (s *Store) UpdateDocumentFileLocation(ctx context.Context, id int64, path string, size int64) error {
	ok, err := s.execAffected(ctx, `UPDATE document_files SET path = ?, size_bytes = ? WHERE id = ?`, nullableString(path), size, id)
	if err != nil {
		return fmt.Errorf("update document file %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("update document file %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetDocumentFile returns the file record for (document, stage, filename), or nil.
func (s *Store) GetDocumentFile(ctx context.Context, documentID string, st stage.Stage, filename string) (*DocumentFile, error) {
	file, err := scanDocumentFile(s.queryRow(ctx,
		`SELECT `+fileColumns+` FROM document_files WHERE document_id = ? AND stage = ? AND filename = ?`,
		documentID, string(st), filename,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document file: %w", err)
	}
	return file, nil
}

// ListDocumentFiles returns the files of a document, optionally narrowed to one stage.
func (s *Store) ListDocumentFiles(ctx context.Context, documentID string, st stage.Stage) ([]*DocumentFile, error) {
	query := `SELECT ` + fileColumns + ` FROM document_files WHERE document_id = ?`
	args := []any{documentID}
	if st != "" {
		query += " AND stage = ?"
		args = append(args, string(st))
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list document files: %w", err)
	}
	defer rows.Close()
	var out []*DocumentFile
	for rows.Next() {
		file, err := scanDocumentFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, file)
	}
	return out, rows.Err()
}

func collectDocuments(rows *sql.Rows) ([]*Document, error) {
	defer rows.Close()
	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
