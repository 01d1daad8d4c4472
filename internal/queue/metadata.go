package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Trigger records what created a job.
type Trigger string

const (
	TriggerScheduler Trigger = "scheduler"
	TriggerManual    Trigger = "manual"
	TriggerRecovery  Trigger = "recovery"
	TriggerRetry     Trigger = "retry"
)

// JobMetadata is the typed payload stored alongside a job. Each concern owns a
// sub-record so writers never clobber each other's keys.
type JobMetadata struct {
	Trigger   Trigger       `json:"trigger,omitempty"`
	Source    *SourceHint   `json:"source,omitempty"`
	Remote    *RemoteTask   `json:"remote,omitempty"`
	Progress  *Progress     `json:"progress,omitempty"`
	Execution *ExecutionRef `json:"execution,omitempty"`
	Recovery  *RecoveryInfo `json:"recovery,omitempty"`
	Poll      *PollState    `json:"poll,omitempty"`
}

// SourceHint remembers where source-driven content came from.
type SourceHint struct {
	URL           string `json:"url"`
	ContentSource string `json:"content_source,omitempty"`
}

// RemoteTask captures the remote worker submission.
type RemoteTask struct {
	TaskID      string    `json:"task_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
}

// Progress is the latest remote-reported progress.
type Progress struct {
	Percent   float64   `json:"percent"`
	Step      string    `json:"step,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionRef links a job to its running stage execution.
type ExecutionRef struct {
	ID int64 `json:"id"`
}

// RecoveryInfo is set on replacement jobs created by stuck-job recovery.
type RecoveryInfo struct {
	ReplacesJobID int64  `json:"replaces_job_id"`
	Reason        string `json:"reason"`
}

// PollState tracks transient status-poll failures.
type PollState struct {
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastAt    time.Time `json:"last_at"`
}

// IsRecoveryReplacement reports whether the job was created by recovery.
func (m JobMetadata) IsRecoveryReplacement() bool {
	return m.Recovery != nil && m.Recovery.ReplacesJobID != 0
}

// SourceURL returns the recorded source URL, if any.
func (m JobMetadata) SourceURL() string {
	if m.Source == nil {
		return ""
	}
	return strings.TrimSpace(m.Source.URL)
}

func encodeMetadata(meta JobMetadata) (string, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode job metadata: %w", err)
	}
	if string(data) == "{}" {
		return "", nil
	}
	return string(data), nil
}

// ErrCorruptMetadata marks a stored metadata blob that is not valid JSON.
var ErrCorruptMetadata = errors.New("corrupt job metadata")

// decodeMetadata parses stored job metadata. Readers may use the zero value
// returned with an error; writers must not overwrite the stored blob.
func decodeMetadata(raw string) (JobMetadata, error) {
	var meta JobMetadata
	if strings.TrimSpace(raw) == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return JobMetadata{}, fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	return meta, nil
}

// ExecutionMetadata holds remote-reported execution details.
type ExecutionMetadata struct {
	ExecutionTimeSeconds float64        `json:"execution_time_seconds,omitempty"`
	Metrics              map[string]any `json:"metrics,omitempty"`
	Warnings             []string       `json:"warnings,omitempty"`
	// CompletedVia is "processor", "poller" or "webhook".
	CompletedVia string `json:"completed_via,omitempty"`
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func decodeExecutionMetadata(raw string) ExecutionMetadata {
	var meta ExecutionMetadata
	if strings.TrimSpace(raw) == "" {
		return meta
	}
	_ = json.Unmarshal([]byte(raw), &meta)
	return meta
}

func upper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
