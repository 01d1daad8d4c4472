package queue

import (
	"database/sql"
	"strings"

	"docflow/internal/stage"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = "id, document_id, stage, status, priority, scheduled_at, created_at, updated_at, started_at, completed_at, retry_count, max_retries, error_message, remote_task_id, metadata_json, cleaned_up, cleaned_up_at, files_deleted, bytes_freed, cleanup_attempted_at, cleanup_retry_after"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job                Job
		stageRaw           string
		statusRaw          string
		scheduledAt        nullTime
		createdAt          nullTime
		updatedAt          nullTime
		startedAt          nullTime
		completedAt        nullTime
		errorMessage       sql.NullString
		remoteTaskID       sql.NullString
		metadata           sql.NullString
		cleanedUp          sql.NullBool
		cleanedUpAt        nullTime
		filesDeleted       sql.NullInt64
		bytesFreed         sql.NullInt64
		cleanupAttemptedAt nullTime
		cleanupRetryAfter  nullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.DocumentID,
		&stageRaw,
		&statusRaw,
		&job.Priority,
		&scheduledAt,
		&createdAt,
		&updatedAt,
		&startedAt,
		&completedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&errorMessage,
		&remoteTaskID,
		&metadata,
		&cleanedUp,
		&cleanedUpAt,
		&filesDeleted,
		&bytesFreed,
		&cleanupAttemptedAt,
		&cleanupRetryAfter,
	); err != nil {
		return nil, err
	}

	job.Stage = stage.Stage(stageRaw)
	job.Status = Status(statusRaw)
	job.ScheduledAt = scheduledAt.Time
	job.CreatedAt = createdAt.Time
	job.UpdatedAt = updatedAt.Time
	job.StartedAt = startedAt.ptr()
	job.CompletedAt = completedAt.ptr()
	job.ErrorMessage = errorMessage.String
	job.RemoteTaskID = remoteTaskID.String
	// Unreadable metadata reads as empty; UpdateJobMetadata refuses to overwrite it.
	job.Metadata, _ = decodeMetadata(metadata.String)
	job.CleanedUp = cleanedUp.Bool
	job.CleanedUpAt = cleanedUpAt.ptr()
	job.CleanupStats = CleanupStats{FilesDeleted: filesDeleted.Int64, BytesFreed: bytesFreed.Int64}
	job.CleanupAttemptedAt = cleanupAttemptedAt.ptr()
	job.CleanupRetryAfter = cleanupRetryAfter.ptr()
	return &job, nil
}

const executionColumns = "id, document_id, stage, job_id, status, started_at, completed_at, input_files_json, output_files_json, error_message, metadata_json"

func scanExecution(scanner rowScanner) (*Execution, error) {
	var (
		exec         Execution
		stageRaw     string
		statusRaw    string
		jobID        sql.NullInt64
		startedAt    nullTime
		completedAt  nullTime
		inputs       sql.NullString
		outputs      sql.NullString
		errorMessage sql.NullString
		metadata     sql.NullString
	)
	if err := scanner.Scan(
		&exec.ID,
		&exec.DocumentID,
		&stageRaw,
		&jobID,
		&statusRaw,
		&startedAt,
		&completedAt,
		&inputs,
		&outputs,
		&errorMessage,
		&metadata,
	); err != nil {
		return nil, err
	}
	exec.Stage = stage.Stage(stageRaw)
	exec.Status = ExecutionStatus(statusRaw)
	exec.JobID = jobID.Int64
	exec.StartedAt = startedAt.Time
	exec.CompletedAt = completedAt.ptr()
	exec.InputFiles = decodeStrings(inputs.String)
	exec.OutputFiles = decodeStrings(outputs.String)
	exec.ErrorMessage = errorMessage.String
	exec.Metadata = decodeExecutionMetadata(metadata.String)
	return &exec, nil
}

const errorColumns = "id, job_id, document_id, stage, category, message, stack, attempt, is_retryable, retry_at, resolved_at, created_at"

func scanProcessingError(scanner rowScanner) (*ProcessingError, error) {
	var (
		rec        ProcessingError
		jobID      sql.NullInt64
		stageRaw   string
		stack      sql.NullString
		retryable  sql.NullBool
		retryAt    nullTime
		resolvedAt nullTime
		createdAt  nullTime
	)
	if err := scanner.Scan(
		&rec.ID,
		&jobID,
		&rec.DocumentID,
		&stageRaw,
		&rec.Category,
		&rec.Message,
		&stack,
		&rec.Attempt,
		&retryable,
		&retryAt,
		&resolvedAt,
		&createdAt,
	); err != nil {
		return nil, err
	}
	rec.JobID = jobID.Int64
	rec.Stage = stage.Stage(stageRaw)
	rec.Stack = stack.String
	rec.IsRetryable = retryable.Bool
	rec.RetryAt = retryAt.ptr()
	rec.ResolvedAt = resolvedAt.ptr()
	rec.CreatedAt = createdAt.Time
	return &rec, nil
}

const documentColumns = "id, title, doc_type, processing_mode, is_processing_paused, current_stage, stage_status, last_stage_error, ingest_target, created_at, updated_at"

func scanDocument(scanner rowScanner) (*Document, error) {
	var (
		doc          Document
		typeRaw      string
		modeRaw      string
		paused       sql.NullBool
		currentStage sql.NullString
		stageStatus  sql.NullString
		lastError    sql.NullString
		ingestTarget sql.NullString
		createdAt    nullTime
		updatedAt    nullTime
	)
	if err := scanner.Scan(
		&doc.ID,
		&doc.Title,
		&typeRaw,
		&modeRaw,
		&paused,
		&currentStage,
		&stageStatus,
		&lastError,
		&ingestTarget,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	doc.Type = DocumentType(typeRaw)
	doc.ProcessingMode = ProcessingMode(modeRaw)
	doc.Paused = paused.Bool
	doc.CurrentStage = stage.Stage(currentStage.String)
	doc.StageStatus = StageStatus(stageStatus.String)
	doc.LastStageError = lastError.String
	doc.IngestTarget = ingestTarget.String
	doc.CreatedAt = createdAt.Time
	doc.UpdatedAt = updatedAt.Time
	return &doc, nil
}

const fileColumns = "id, document_id, stage, filename, path, size_bytes, content_type, source_url, created_at"

func scanDocumentFile(scanner rowScanner) (*DocumentFile, error) {
	var (
		file        DocumentFile
		stageRaw    string
		path        sql.NullString
		contentType sql.NullString
		sourceURL   sql.NullString
		createdAt   nullTime
	)
	if err := scanner.Scan(
		&file.ID,
		&file.DocumentID,
		&stageRaw,
		&file.Filename,
		&path,
		&file.Size,
		&contentType,
		&sourceURL,
		&createdAt,
	); err != nil {
		return nil, err
	}
	file.Stage = stage.Stage(stageRaw)
	file.Path = path.String
	file.ContentType = contentType.String
	file.SourceURL = sourceURL.String
	file.CreatedAt = createdAt.Time
	return &file, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func collectExecutions(rows *sql.Rows) ([]*Execution, error) {
	defer rows.Close()
	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
