package workflow

import (
	"context"
	"strings"

	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/services"
)

// Scheduler creates the next stage job for AUTOMATIC documents.
type Scheduler struct {
	*deps
	batchSize int
}

// Tick schedules up to one batch of documents and returns how many jobs it
// created.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	docs, err := s.store.SchedulableDocuments(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := s.schedule(ctx, doc)
		if err != nil {
			logging.WithContext(services.WithDocumentID(ctx, doc.ID), s.logger).Warn("failed to schedule document",
				logging.Error(err),
				logging.EventType("schedule_failed"),
				logging.ErrorHint("check database access"),
			)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Scheduler) schedule(ctx context.Context, doc *queue.Document) (bool, error) {
	next, ok, err := s.tracker.NextStage(ctx, doc.ID)
	if err != nil || !ok {
		return false, err
	}
	ctx = services.WithStage(services.WithDocumentID(ctx, doc.ID), string(next))
	logger := logging.WithContext(ctx, s.logger)

	var hint *queue.SourceHint
	if doc.Type.SourceDriven() {
		url, err := s.sources.RecoverSourceURL(ctx, doc.ID)
		if err != nil {
			return false, err
		}
		if url == "" {
			logger.Warn("no source url for document; skipping",
				logging.String("document_type", string(doc.Type)),
				logging.EventType("schedule_skipped_no_source"),
				logging.ErrorHint("register a source url with 'docflow documents add --url'"),
			)
			// Bump updated_at so the document rotates behind the rest of the batch.
			if err := s.store.UpdateDocumentStage(ctx, doc.ID, queue.DocumentStageUpdate{}); err != nil {
				return false, err
			}
			return false, nil
		}
		hint = &queue.SourceHint{URL: url, ContentSource: strings.ToLower(string(doc.Type))}
	}

	pending := queue.StageStatusPending
	if err := s.store.UpdateDocumentStage(ctx, doc.ID, queue.DocumentStageUpdate{
		CurrentStage: &next,
		StageStatus:  &pending,
	}); err != nil {
		return false, err
	}
	job, created, err := s.store.CreateJob(ctx, queue.NewJob{
		DocumentID: doc.ID,
		Stage:      next,
		MaxRetries: s.cfg.JobMaxRetries(string(next)),
		Metadata:   queue.JobMetadata{Trigger: queue.TriggerScheduler, Source: hint},
	})
	if err != nil {
		return false, err
	}
	if created {
		s.metrics.JobCreated(string(next), string(queue.TriggerScheduler))
		logger.Info("stage job scheduled",
			logging.JobID(job.ID),
			logging.EventType("job_scheduled"),
		)
	}
	return created, nil
}
