package workflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

// jobContext annotates ctx with the job's identifiers and a fresh correlation
// id unless one is already present.
func jobContext(ctx context.Context, worker string, job *queue.Job) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithJobID(ctx, job.ID)
		ctx = services.WithDocumentID(ctx, job.DocumentID)
		ctx = services.WithStage(ctx, string(job.Stage))
	}
	if worker != "" {
		ctx = services.WithWorker(ctx, worker)
	}
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}

func workerLogger(base *slog.Logger, worker string) *slog.Logger {
	if base == nil {
		base = logging.NewNop()
	}
	return logging.NewComponentLogger(base, "workflow-"+worker)
}

func jobLogger(ctx context.Context, base *slog.Logger, job *queue.Job) *slog.Logger {
	logger := logging.WithContext(ctx, base)
	if job != nil && job.RemoteTaskID != "" {
		logger = logger.With(logging.RemoteTaskID(job.RemoteTaskID))
	}
	return logger
}
