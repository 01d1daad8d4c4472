package workflow

import (
	"context"
	"errors"
	"time"

	"docflow/internal/logging"
	"docflow/internal/queue"
)

// Start launches every worker on its own ticker and the retention cron.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	purge, err := m.cleanup.schedulePurge(runCtx, m.retentionSchedule)
	if err != nil {
		m.mu.Unlock()
		cancel()
		return err
	}
	m.cancel = cancel
	m.cron = purge
	m.running = true
	m.wg.Add(len(m.workers))
	m.mu.Unlock()

	if purge != nil {
		purge.Start()
	}
	for _, w := range m.workers {
		go m.runWorker(runCtx, w)
	}
	m.deps.logger.Info("workflow started",
		logging.Int("workers", len(m.workers)),
		logging.String("retention_schedule", m.retentionSchedule),
		logging.EventType("workflow_started"),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight ticks to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	purge := m.cron
	m.running = false
	m.cancel = nil
	m.cron = nil
	m.mu.Unlock()

	if purge != nil {
		<-purge.Stop().Done()
	}
	cancel()
	m.wg.Wait()
	m.deps.logger.Info("workflow stopped", logging.EventType("workflow_stopped"))
}

// RunOnce runs one tick of the named worker outside its ticker.
func (m *Manager) RunOnce(ctx context.Context, name string) (int, error) {
	for _, w := range m.workers {
		if w.name == name {
			return m.runTick(ctx, w), m.workerError(w)
		}
	}
	return 0, errors.New("unknown worker " + name)
}

func (m *Manager) runWorker(ctx context.Context, w *workerState) {
	defer m.wg.Done()
	interval := w.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.runTick(ctx, w)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) runTick(ctx context.Context, w *workerState) int {
	start := time.Now()
	processed, err := w.tick(ctx)
	elapsed := time.Since(start)
	m.deps.metrics.ObserveTick(w.name, elapsed)

	if ctx.Err() != nil {
		// Shutdown interrupts in-flight queries; those errors are not worker faults.
		err = nil
	}
	m.mu.Lock()
	w.lastRun = start
	w.lastErr = err
	w.runs++
	w.processed += int64(processed)
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()

	if err != nil {
		workerLogger(m.deps.logger, w.name).Error("worker tick failed",
			logging.String(logging.FieldWorker, w.name),
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.EventType("worker_tick_failed"),
			logging.ErrorHint("check database access"),
		)
	}
	m.refreshJobGauge(ctx)
	return processed
}

func (m *Manager) workerError(w *workerState) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return w.lastErr
}

func (m *Manager) refreshJobGauge(ctx context.Context) {
	if m.deps.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := m.deps.store.Stats(ctx)
	if err != nil {
		return
	}
	counts := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		counts[string(status)] = stats[status]
	}
	m.deps.metrics.SetJobCounts(counts)
}
