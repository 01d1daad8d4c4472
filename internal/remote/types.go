package remote

import "docflow/internal/stage"

// TaskStatus is the remote worker's view of a task.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// InputRef points the worker at one stage input.
type InputRef struct {
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// SubmitRequest asks the worker to run one stage.
type SubmitRequest struct {
	Stage      stage.Stage    `json:"-"`
	DocumentID string         `json:"document_id"`
	InputRefs  []InputRef     `json:"input_refs"`
	Config     map[string]any `json:"config,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"`
}

// Result is the outcome of a completed task.
type Result struct {
	OutputFiles   []string       `json:"output_files"`
	ExecutionTime float64        `json:"execution_time,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// SubmitResponse is either an accepted asynchronous task or an inline result.
type SubmitResponse struct {
	TaskID string     `json:"task_id,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	Result *Result    `json:"result,omitempty"`
}

// Synchronous reports whether the worker finished the stage inline.
func (r SubmitResponse) Synchronous() bool {
	return r.Status == StatusCompleted && r.Result != nil
}

// Task is the polled state of an asynchronous task.
type Task struct {
	ID          string     `json:"task_id,omitempty"`
	Status      TaskStatus `json:"status"`
	Progress    float64    `json:"progress,omitempty"`
	CurrentStep string     `json:"current_step,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// FileInfo describes one output file held by the worker.
type FileInfo struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// CleanupResult reports what the worker released for a task.
type CleanupResult struct {
	FilesDeleted int64 `json:"files_deleted"`
	BytesFreed   int64 `json:"bytes_freed"`
}
