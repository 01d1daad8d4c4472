package queue

import (
	"time"

	"docflow/internal/stage"
)

// Status represents the lifecycle of a processing job.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusProcessing       Status = "PROCESSING"
	StatusWaitingForRemote Status = "WAITING_FOR_REMOTE"
	StatusFinished         Status = "FINISHED"
	StatusFailed           Status = "FAILED"
	StatusCancelled        Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusWaitingForRemote,
	StatusFinished,
	StatusFailed,
	StatusCancelled,
}

var activeStatuses = []Status{StatusPending, StatusProcessing, StatusWaitingForRemote}

var inFlightStatuses = []Status{StatusProcessing, StatusWaitingForRemote}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus resolves a status name, returning false when unknown.
func ParseStatus(value string) (Status, bool) {
	for _, s := range allStatuses {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// Active reports whether the job still occupies its (document, stage) slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusWaitingForRemote
}

// Terminal reports whether no further automatic transition applies.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// ExecutionStatus is the state of one attempt at a stage.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// DocumentType selects the handler variant for a document.
type DocumentType string

const (
	DocumentTypeFile  DocumentType = "FILE"
	DocumentTypeMedia DocumentType = "MEDIA"
	DocumentTypeWeb   DocumentType = "WEB"
)

// ParseDocumentType resolves a document type name case-insensitively.
func ParseDocumentType(value string) (DocumentType, bool) {
	switch DocumentType(upper(value)) {
	case DocumentTypeFile:
		return DocumentTypeFile, true
	case DocumentTypeMedia:
		return DocumentTypeMedia, true
	case DocumentTypeWeb:
		return DocumentTypeWeb, true
	}
	return "", false
}

// SourceDriven reports whether content comes from a URL rather than an upload.
func (t DocumentType) SourceDriven() bool {
	return t == DocumentTypeMedia || t == DocumentTypeWeb
}

// ProcessingMode controls whether the scheduler advances a document on its own.
type ProcessingMode string

const (
	ModeManual    ProcessingMode = "MANUAL"
	ModeAutomatic ProcessingMode = "AUTOMATIC"
)

// ParseProcessingMode resolves a mode name case-insensitively.
func ParseProcessingMode(value string) (ProcessingMode, bool) {
	switch ProcessingMode(upper(value)) {
	case ModeManual:
		return ModeManual, true
	case ModeAutomatic:
		return ModeAutomatic, true
	}
	return "", false
}

// StageStatus mirrors the current stage state onto the document.
type StageStatus string

const (
	StageStatusNone      StageStatus = ""
	StageStatusPending   StageStatus = "PENDING"
	StageStatusRunning   StageStatus = "RUNNING"
	StageStatusCompleted StageStatus = "COMPLETED"
	StageStatusFailed    StageStatus = "FAILED"
	StageStatusCancelled StageStatus = "CANCELLED"
)

// CleanupStats records what the remote worker released for a task.
type CleanupStats struct {
	FilesDeleted int64
	BytesFreed   int64
}

// Job is one unit of stage work for one document.
type Job struct {
	ID           int64
	DocumentID   string
	Stage        stage.Stage
	Status       Status
	Priority     int
	ScheduledAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	RemoteTaskID string
	Metadata     JobMetadata

	CleanedUp          bool
	CleanedUpAt        *time.Time
	CleanupStats       CleanupStats
	CleanupAttemptedAt *time.Time
	CleanupRetryAfter  *time.Time
}

// CanRetry reports whether FailJob would reschedule the job.
func (j *Job) CanRetry() bool {
	return j != nil && j.RetryCount < j.MaxRetries
}

// Age returns how long the job has been in flight since it started, falling
// back to creation time when it never started.
func (j *Job) Age(now time.Time) time.Duration {
	if j == nil {
		return 0
	}
	if j.StartedAt != nil {
		return now.Sub(*j.StartedAt)
	}
	return now.Sub(j.CreatedAt)
}

// NewJob describes a job to create.
type NewJob struct {
	DocumentID  string
	Stage       stage.Stage
	Priority    int
	ScheduledAt time.Time
	MaxRetries  int
	Metadata    JobMetadata
}

// JobFilter narrows ListJobs results. Zero values mean "any".
type JobFilter struct {
	DocumentID string
	Stage      stage.Stage
	Statuses   []Status
	Limit      int
}

// FailOutcome reports what FailJob did.
type FailOutcome struct {
	// Applied is false when the job was already terminal.
	Applied     bool
	Status      Status
	RetryCount  int
	ScheduledAt time.Time
}

// Rescheduled reports whether the failure put the job back to PENDING.
func (o FailOutcome) Rescheduled() bool {
	return o.Applied && o.Status == StatusPending
}

// Execution records one attempt at running a stage for a document.
type Execution struct {
	ID           int64
	DocumentID   string
	Stage        stage.Stage
	JobID        int64
	Status       ExecutionStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	InputFiles   []string
	OutputFiles  []string
	ErrorMessage string
	Metadata     ExecutionMetadata
}

// Eligible reports whether the execution satisfies a downstream dependency.
func (e *Execution) Eligible() bool {
	return e != nil && e.Status == ExecutionCompleted && len(e.OutputFiles) > 0
}

// ProcessingError is an append-only audit record of a failure.
type ProcessingError struct {
	ID          int64
	JobID       int64
	DocumentID  string
	Stage       stage.Stage
	Category    string
	Message     string
	Stack       string
	Attempt     int
	IsRetryable bool
	RetryAt     *time.Time
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}

// ErrorFilter narrows ListErrors results.
type ErrorFilter struct {
	DocumentID     string
	Stage          stage.Stage
	Category       string
	UnresolvedOnly bool
	Limit          int
}

// Document is the unit of content being pushed through the pipeline.
type Document struct {
	ID             string
	Title          string
	Type           DocumentType
	ProcessingMode ProcessingMode
	Paused         bool
	CurrentStage   stage.Stage
	StageStatus    StageStatus
	LastStageError string
	// IngestTarget holds opaque JSON credentials for the downstream database
	// the INGESTOR stage writes into.
	IngestTarget string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentFile is a stored artifact (or source reference) for a document stage.
type DocumentFile struct {
	ID          int64
	DocumentID  string
	Stage       stage.Stage
	Filename    string
	Path        string
	Size        int64
	ContentType string
	SourceURL   string
	CreatedAt   time.Time
}

// DocumentStageUpdate mirrors stage progress onto a document. Nil fields are
// left untouched.
type DocumentStageUpdate struct {
	CurrentStage   *stage.Stage
	StageStatus    *StageStatus
	LastStageError *string
}

// HealthSummary aggregates job counts for diagnostics.
type HealthSummary struct {
	Total     int
	Pending   int
	InFlight  int
	Finished  int
	Failed    int
	Cancelled int
}
