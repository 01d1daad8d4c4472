package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"docflow/internal/logging"
	"docflow/internal/queue"
)

// Cleanup releases remote task resources for finished jobs and purges old
// terminal jobs on the retention schedule.
type Cleanup struct {
	*deps
	batchSize     int
	gracePeriod   time.Duration
	retryAfter    time.Duration
	retentionDays int
}

// Tick releases up to one batch of finished remote tasks and returns how many
// were cleaned up.
func (c *Cleanup) Tick(ctx context.Context) (int, error) {
	now := c.store.Now()
	jobs, err := c.store.JobsNeedingCleanup(ctx, now.Add(-c.gracePeriod), c.batchSize)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if c.release(jobContext(ctx, "cleanup", job), job) {
			cleaned++
		}
	}
	return cleaned, nil
}

func (c *Cleanup) release(ctx context.Context, job *queue.Job) bool {
	logger := jobLogger(ctx, c.logger, job)
	result, err := c.remote.Cleanup(ctx, job.RemoteTaskID)
	if err != nil {
		retryAt := c.store.Now().Add(c.retryAfter)
		if markErr := c.store.MarkCleanupAttempt(ctx, job.ID, retryAt); markErr != nil {
			logger.Warn("failed to record cleanup attempt", logging.Error(markErr))
		}
		logger.Warn("remote cleanup failed; will retry later",
			logging.Error(err),
			logging.String("retry_after", retryAt.Format(time.RFC3339)),
			logging.EventType("cleanup_failed"),
			logging.ErrorHint("check remote worker reachability"),
		)
		return false
	}
	stats := queue.CleanupStats{FilesDeleted: result.FilesDeleted, BytesFreed: result.BytesFreed}
	if err := c.store.MarkCleanedUp(ctx, job.ID, stats); err != nil {
		logger.Warn("failed to record cleanup", logging.Error(err))
		return false
	}
	c.metrics.CleanupFreed(stats.FilesDeleted, stats.BytesFreed)
	logger.Info("remote task cleaned up",
		logging.Int64("files_deleted", stats.FilesDeleted),
		logging.Int64("bytes_freed", stats.BytesFreed),
		logging.EventType("cleanup_complete"),
	)
	return true
}

// Purge deletes terminal jobs past the retention window.
func (c *Cleanup) Purge(ctx context.Context) (int64, error) {
	removed, err := c.store.CleanupCompletedJobs(ctx, c.retentionDays)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.logger.Info("purged old jobs",
			logging.Int64("removed", removed),
			logging.Int("retention_days", c.retentionDays),
			logging.EventType("retention_purge"),
		)
	}
	return removed, nil
}

// schedulePurge registers Purge on the cron schedule.
func (c *Cleanup) schedulePurge(ctx context.Context, schedule string) (*cron.Cron, error) {
	if c.retentionDays <= 0 || schedule == "" {
		return nil, nil
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, func() {
		if _, err := c.Purge(ctx); err != nil {
			c.logger.Warn("retention purge failed",
				logging.Error(err),
				logging.EventType("retention_purge_failed"),
				logging.ErrorHint("check database access"),
			)
		}
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return scheduler, nil
}
