package api

import (
	"sort"
	"time"

	"docflow/internal/queue"
	"docflow/internal/stageexec"
	"docflow/internal/workflow"
)

// FromJob converts a queue job into its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	out := Job{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		Stage:        string(job.Stage),
		Status:       string(job.Status),
		Priority:     job.Priority,
		Trigger:      string(job.Metadata.Trigger),
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		ErrorMessage: job.ErrorMessage,
		RemoteTaskID: job.RemoteTaskID,
		SourceURL:    job.Metadata.SourceURL(),
		ScheduledAt:  formatTime(job.ScheduledAt),
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
		StartedAt:    formatTimePtr(job.StartedAt),
		CompletedAt:  formatTimePtr(job.CompletedAt),
		CleanedUp:    job.CleanedUp,
		FilesDeleted: job.CleanupStats.FilesDeleted,
		BytesFreed:   job.CleanupStats.BytesFreed,
	}
	if p := job.Metadata.Progress; p != nil {
		out.Progress = &JobProgress{Percent: p.Percent, Step: p.Step, UpdatedAt: formatTime(p.UpdatedAt)}
	}
	if job.Metadata.IsRecoveryReplacement() {
		out.ReplacesJob = job.Metadata.Recovery.ReplacesJobID
	}
	return out
}

// FromJobs converts a slice of jobs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// MergeJobStats returns a count for every job status, zero-filled.
func MergeJobStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	out := WorkflowStatus{
		Running:   summary.Running,
		JobStats:  MergeJobStats(summary.JobStats),
		LastError: summary.LastError,
		Workers:   make([]WorkerStatus, 0, len(summary.Workers)),
	}
	for _, w := range summary.Workers {
		out.Workers = append(out.Workers, WorkerStatus{
			Name:            w.Name,
			IntervalSeconds: w.Interval.Seconds(),
			LastRun:         formatTime(w.LastRun),
			LastError:       w.LastError,
			Runs:            w.Runs,
			Processed:       w.Processed,
		})
	}
	names := make([]string, 0, len(summary.WorkerHealth))
	for name := range summary.WorkerHealth {
		names = append(names, name)
	}
	sort.Strings(names)
	out.WorkerHealth = make([]WorkerHealth, 0, len(names))
	for _, name := range names {
		h := summary.WorkerHealth[name]
		out.WorkerHealth = append(out.WorkerHealth, WorkerHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromPipelineStatus converts a tracker pipeline summary.
func FromPipelineStatus(status stageexec.PipelineStatus) Pipeline {
	out := Pipeline{
		DocumentID:      status.DocumentID,
		Stages:          make([]PipelineStage, 0, len(status.Stages)),
		CompletedStages: status.CompletedStages,
		Completed:       status.Completed,
		Failed:          status.Failed,
		Progress:        status.Progress,
		NextStage:       string(status.NextStage),
	}
	for _, st := range status.Stages {
		out.Stages = append(out.Stages, PipelineStage{
			Stage:       string(st.Stage),
			Status:      string(st.Status),
			Completed:   st.Eligible,
			ExecutionID: st.ExecutionID,
			Error:       st.Error,
		})
	}
	return out
}

// ParseTime parses an API timestamp, returning the zero time when empty or
// malformed.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromDocument converts a queue document into its API representation.
func FromDocument(doc *queue.Document) Document {
	if doc == nil {
		return Document{}
	}
	return Document{
		ID:             doc.ID,
		Title:          doc.Title,
		Type:           string(doc.Type),
		ProcessingMode: string(doc.ProcessingMode),
		Paused:         doc.Paused,
		CurrentStage:   string(doc.CurrentStage),
		StageStatus:    string(doc.StageStatus),
		LastStageError: doc.LastStageError,
		CreatedAt:      formatTime(doc.CreatedAt),
		UpdatedAt:      formatTime(doc.UpdatedAt),
	}
}

// FromDocuments converts a slice of documents.
func FromDocuments(docs []*queue.Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc != nil {
			out = append(out, FromDocument(doc))
		}
	}
	return out
}

// FromProcessingErrors converts audit rows into their API representation.
func FromProcessingErrors(recs []*queue.ProcessingError) []ProcessingError {
	out := make([]ProcessingError, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		out = append(out, ProcessingError{
			ID:          rec.ID,
			JobID:       rec.JobID,
			DocumentID:  rec.DocumentID,
			Stage:       string(rec.Stage),
			Category:    rec.Category,
			Message:     rec.Message,
			Attempt:     rec.Attempt,
			IsRetryable: rec.IsRetryable,
			RetryAt:     formatTimePtr(rec.RetryAt),
			ResolvedAt:  formatTimePtr(rec.ResolvedAt),
			CreatedAt:   formatTime(rec.CreatedAt),
		})
	}
	return out
}
