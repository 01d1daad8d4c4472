package failures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/metrics"
	"docflow/internal/notifications"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// Store is the persistence surface the failure handler needs.
type Store interface {
	RecordError(ctx context.Context, rec queue.ProcessingError) (*queue.ProcessingError, error)
	FailExecution(ctx context.Context, id int64, message string) (bool, error)
	FailJob(ctx context.Context, id int64, message string) (queue.FailOutcome, error)
	FailJobTerminal(ctx context.Context, id int64, message string) (bool, error)
	CancelJob(ctx context.Context, id int64, reason string) (bool, error)
	GetDocument(ctx context.Context, id string) (*queue.Document, error)
	UpdateDocumentStage(ctx context.Context, id string, update queue.DocumentStageUpdate) error
}

// Disposition selects what happens to the job.
type Disposition int

const (
	// DispositionRetry reschedules while retries remain, otherwise fails.
	DispositionRetry Disposition = iota
	// DispositionFail fails the job permanently.
	DispositionFail
	// DispositionCancel cancels the job.
	DispositionCancel
)

// Failure is one job failure to handle.
type Failure struct {
	Job         *queue.Job
	ExecutionID int64
	Err         error
	// Message overrides the message derived from Err.
	Message     string
	Disposition Disposition
	// Silent skips the job-failure notification; the caller reports the
	// outcome through its own channel.
	Silent bool
}

// Result reports what HandleJobFailure did.
type Result struct {
	Category Category
	Message  string
	Status   queue.Status
	// Applied is false when the job was already terminal and nothing changed.
	Applied     bool
	Rescheduled bool
	Record      *queue.ProcessingError
}

// Handler applies the failure bookkeeping shared by every worker.
type Handler struct {
	store    Store
	cfg      *config.Config
	metrics  *metrics.Metrics
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler builds a failure handler.
func NewHandler(store Store, cfg *config.Config, m *metrics.Metrics, notifier notifications.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Handler{
		store:    store,
		cfg:      cfg,
		metrics:  m,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "failures"),
		now:      clockFrom(store),
	}
}

func clockFrom(store Store) func() time.Time {
	if c, ok := store.(interface{ Now() time.Time }); ok {
		return c.Now
	}
	return time.Now
}

// Policy returns the retry policy for a stage.
func (h *Handler) Policy(st stage.Stage) Policy {
	if h.cfg == nil {
		return Policy{}
	}
	return PolicyFromConfig(h.cfg.RetryPolicyFor(string(st)))
}

// HandleJobFailure fails the execution, applies the job disposition, and when
// the job actually changed state records the audit row, mirrors the error
// onto the document, counts it and notifies.
func (h *Handler) HandleJobFailure(ctx context.Context, f Failure) (Result, error) {
	if f.Job == nil {
		return Result{}, errors.New("handle job failure: job is required")
	}
	job := f.Job
	ctx = services.WithJobID(services.WithStage(services.WithDocumentID(ctx, job.DocumentID), string(job.Stage)), job.ID)
	logger := logging.WithContext(ctx, h.logger)

	category := Categorize(f.Err)
	message := strings.TrimSpace(f.Message)
	if message == "" {
		message = Message(f.Err)
	} else if f.Err == nil {
		category = CategorizeMessage(message)
	}
	if message == "" {
		message = fmt.Sprintf("%s failed", job.Stage)
	}
	result := Result{Category: category, Message: message}

	if f.ExecutionID > 0 {
		if _, err := h.store.FailExecution(ctx, f.ExecutionID, message); err != nil {
			logger.Warn("failed to mark execution failed",
				logging.Int64("execution_id", f.ExecutionID),
				logging.Error(err),
				logging.EventType("execution_fail_persist_failed"),
				logging.ErrorHint("check database access"),
			)
		}
	}

	switch f.Disposition {
	case DispositionCancel:
		ok, err := h.store.CancelJob(ctx, job.ID, message)
		if err != nil {
			return result, err
		}
		result.Applied = ok
		result.Status = queue.StatusCancelled
	case DispositionFail:
		ok, err := h.store.FailJobTerminal(ctx, job.ID, message)
		if err != nil {
			return result, err
		}
		result.Applied = ok
		result.Status = queue.StatusFailed
	default:
		outcome, err := h.store.FailJob(ctx, job.ID, message)
		if err != nil {
			return result, err
		}
		result.Applied = outcome.Applied
		result.Status = outcome.Status
		result.Rescheduled = outcome.Rescheduled()
	}

	if !result.Applied {
		logger.Info("failure ignored for terminal job",
			logging.String("error_message", message),
			logging.EventType("failure_ignored"),
		)
		return result, nil
	}

	rec := queue.ProcessingError{
		JobID:       job.ID,
		DocumentID:  job.DocumentID,
		Stage:       job.Stage,
		Category:    string(category),
		Message:     message,
		Stack:       Chain(f.Err),
		Attempt:     job.RetryCount,
		IsRetryable: category.Retryable(),
	}
	if rec.IsRetryable {
		at := h.now().Add(h.Policy(job.Stage).Delay(job.RetryCount))
		rec.RetryAt = &at
	}
	stored, err := h.store.RecordError(ctx, rec)
	if err != nil {
		logger.Warn("failed to record processing error",
			logging.Error(err),
			logging.EventType("error_audit_failed"),
			logging.ErrorHint("check database access"),
		)
	}
	result.Record = stored

	stageStatus := queue.StageStatusFailed
	switch {
	case result.Rescheduled:
		stageStatus = queue.StageStatusPending
	case result.Status == queue.StatusCancelled:
		stageStatus = queue.StageStatusCancelled
	}
	if err := h.store.UpdateDocumentStage(ctx, job.DocumentID, queue.DocumentStageUpdate{
		StageStatus:    &stageStatus,
		LastStageError: &message,
	}); err != nil && !errors.Is(err, queue.ErrNotFound) {
		logger.Warn("failed to mirror failure onto document",
			logging.Error(err),
			logging.EventType("document_update_failed"),
			logging.ErrorHint("check database access"),
		)
	}

	h.metrics.JobFailed(string(job.Stage), string(category))

	logger.Error("job failed",
		logging.String("category", string(category)),
		logging.String("resolved_status", string(result.Status)),
		logging.Bool("rescheduled", result.Rescheduled),
		logging.Int("attempt", job.RetryCount),
		logging.String("error_message", message),
		logging.Alert("job_failure"),
		logging.EventType("job_failure"),
		logging.ErrorHint(hintFor(category)),
	)

	if !f.Silent {
		h.notify(ctx, logger, job, category, message, !result.Rescheduled)
	}
	return result, nil
}

func (h *Handler) notify(ctx context.Context, logger *slog.Logger, job *queue.Job, category Category, message string, final bool) {
	title := ""
	if doc, err := h.store.GetDocument(ctx, job.DocumentID); err == nil && doc != nil {
		title = doc.Title
	}
	if err := h.notifier.NotifyJobFailed(ctx, notifications.JobFailure{
		DocumentID: job.DocumentID,
		Title:      title,
		Stage:      string(job.Stage),
		Category:   string(category),
		Message:    message,
		Attempt:    job.RetryCount,
		Final:      final,
	}); err != nil {
		logger.Debug("job failure notification failed", logging.Error(err))
	}
}

// Message returns the operator-facing message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if msg := strings.TrimSpace(services.Details(err).Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(err.Error())
}

// Chain renders each layer of a wrapped error on its own line.
func Chain(err error) string {
	if err == nil {
		return ""
	}
	var lines []string
	for current := err; current != nil; current = unwrapCause(current) {
		lines = append(lines, current.Error())
		if len(lines) >= 16 {
			break
		}
	}
	return strings.Join(lines, "\ncaused by: ")
}

// unwrapCause follows single wrapping, and for joined errors the last one,
// which is where services.Wrap keeps the underlying cause.
func unwrapCause(err error) error {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		errs := multi.Unwrap()
		if len(errs) == 0 {
			return nil
		}
		return errs[len(errs)-1]
	}
	return errors.Unwrap(err)
}

func hintFor(category Category) string {
	switch category {
	case CategoryNetwork, CategoryServiceUnavailable, CategoryTimeout:
		return "check remote worker reachability; retry with 'docflow jobs retry'"
	case CategoryRateLimit:
		return "remote worker is throttling; retry later"
	case CategoryMissingDependency:
		return "re-run the previous stage for this document"
	case CategoryValidation:
		return "inspect the document source and stage inputs"
	case CategoryPermission:
		return "check remote.token and artifact directory permissions"
	default:
		return "inspect 'docflow errors list' for details"
	}
}
