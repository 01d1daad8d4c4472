package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a processing job in a transport-friendly format.
type Job struct {
	ID           int64        `json:"id"`
	DocumentID   string       `json:"documentId"`
	Stage        string       `json:"stage"`
	Status       string       `json:"status"`
	Priority     int          `json:"priority"`
	Trigger      string       `json:"trigger,omitempty"`
	RetryCount   int          `json:"retryCount"`
	MaxRetries   int          `json:"maxRetries"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	RemoteTaskID string       `json:"remoteTaskId,omitempty"`
	SourceURL    string       `json:"sourceUrl,omitempty"`
	Progress     *JobProgress `json:"progress,omitempty"`
	ScheduledAt  string       `json:"scheduledAt,omitempty"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	UpdatedAt    string       `json:"updatedAt,omitempty"`
	StartedAt    string       `json:"startedAt,omitempty"`
	CompletedAt  string       `json:"completedAt,omitempty"`
	ReplacesJob  int64        `json:"replacesJobId,omitempty"`
	CleanedUp    bool         `json:"cleanedUp"`
	FilesDeleted int64        `json:"filesDeleted,omitempty"`
	BytesFreed   int64        `json:"bytesFreed,omitempty"`
}

// JobProgress is the latest remote-reported progress of a job.
type JobProgress struct {
	Percent   float64 `json:"percent"`
	Step      string  `json:"step,omitempty"`
	UpdatedAt string  `json:"updatedAt,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running      bool           `json:"running"`
	JobStats     map[string]int `json:"jobStats"`
	LastError    string         `json:"lastError,omitempty"`
	Workers      []WorkerStatus `json:"workers"`
	WorkerHealth []WorkerHealth `json:"workerHealth"`
}

// WorkerStatus reports the activity of one background worker.
type WorkerStatus struct {
	Name            string  `json:"name"`
	IntervalSeconds float64 `json:"intervalSeconds"`
	LastRun         string  `json:"lastRun,omitempty"`
	LastError       string  `json:"lastError,omitempty"`
	Runs            int64   `json:"runs"`
	Processed       int64   `json:"processed"`
}

// WorkerHealth reports whether a background worker is keeping up.
type WorkerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// CheckStatus captures the result of one preflight check.
type CheckStatus struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	DatabaseDriver string         `json:"databaseDriver"`
	LockFilePath   string         `json:"lockFilePath"`
	Workflow       WorkflowStatus `json:"workflow"`
	Checks         []CheckStatus  `json:"checks"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Items []Job `json:"items"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Item Job `json:"item"`
}

// PipelineStage is the latest state of one stage of a document.
type PipelineStage struct {
	Stage       string `json:"stage"`
	Status      string `json:"status,omitempty"`
	Completed   bool   `json:"completed"`
	ExecutionID int64  `json:"executionId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Pipeline is the derived progress of a document through every stage.
type Pipeline struct {
	DocumentID      string          `json:"documentId"`
	Stages          []PipelineStage `json:"stages"`
	CompletedStages int             `json:"completedStages"`
	Completed       bool            `json:"completed"`
	Failed          bool            `json:"failed"`
	Progress        float64         `json:"progress"`
	NextStage       string          `json:"nextStage,omitempty"`
}

// WebhookResponse acknowledges a stage callback.
type WebhookResponse struct {
	Outcome string `json:"outcome"`
}

// TriggerResponse reports the job a manual trigger produced. Created is false
// when an active job for the stage already existed.
type TriggerResponse struct {
	Item    Job  `json:"item"`
	Created bool `json:"created"`
}

// CancelResponse reports whether a cancel request changed the job.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HealthResponse is the liveness probe payload.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Document describes a pipeline document in a transport-friendly format.
type Document struct {
	ID             string `json:"id"`
	Title          string `json:"title,omitempty"`
	Type           string `json:"type"`
	ProcessingMode string `json:"processingMode"`
	Paused         bool   `json:"paused"`
	CurrentStage   string `json:"currentStage,omitempty"`
	StageStatus    string `json:"stageStatus,omitempty"`
	LastStageError string `json:"lastStageError,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// ProcessingError is one row of the error audit trail.
type ProcessingError struct {
	ID          int64  `json:"id"`
	JobID       int64  `json:"jobId,omitempty"`
	DocumentID  string `json:"documentId"`
	Stage       string `json:"stage"`
	Category    string `json:"category"`
	Message     string `json:"message"`
	Attempt     int    `json:"attempt"`
	IsRetryable bool   `json:"isRetryable"`
	RetryAt     string `json:"retryAt,omitempty"`
	ResolvedAt  string `json:"resolvedAt,omitempty"`
	CreatedAt   string `json:"createdAt"`
}
