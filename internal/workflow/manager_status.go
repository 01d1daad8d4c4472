package workflow

import (
	"context"
	"fmt"
	"time"

	"docflow/internal/logging"
	"docflow/internal/queue"
)

// stallIntervals is how many missed intervals mark a running worker stalled.
const stallIntervals = 3

// WorkerStatus is the last observed state of one worker.
type WorkerStatus struct {
	Name      string
	Interval  time.Duration
	LastRun   time.Time
	LastError string
	Runs      int64
	Processed int64
}

// WorkerHealth is the readiness of one background worker.
type WorkerHealth struct {
	Name   string
	Ready  bool
	Detail string
}

// health derives readiness from the worker's last tick.
func (ws WorkerStatus) health(running bool, now time.Time) WorkerHealth {
	h := WorkerHealth{Name: ws.Name, Ready: true}
	switch {
	case ws.LastError != "":
		h.Ready = false
		h.Detail = ws.LastError
	case running && ws.Interval > 0 && !ws.LastRun.IsZero() && now.Sub(ws.LastRun) > stallIntervals*ws.Interval:
		h.Ready = false
		h.Detail = fmt.Sprintf("no tick since %s", ws.LastRun.UTC().Format(time.RFC3339))
	}
	return h
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running      bool
	LastError    string
	JobStats     map[queue.Status]int
	Workers      []WorkerStatus
	WorkerHealth map[string]WorkerHealth
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:      m.running,
		Workers:      make([]WorkerStatus, 0, len(m.workers)),
		WorkerHealth: make(map[string]WorkerHealth, len(m.workers)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	now := time.Now()
	for _, w := range m.workers {
		ws := WorkerStatus{
			Name:      w.name,
			Interval:  w.interval,
			LastRun:   w.lastRun,
			Runs:      w.runs,
			Processed: w.processed,
		}
		if w.lastErr != nil {
			ws.LastError = w.lastErr.Error()
		}
		summary.WorkerHealth[w.name] = ws.health(m.running, now)
		summary.Workers = append(summary.Workers, ws)
	}
	m.mu.RUnlock()

	stats, err := m.deps.store.Stats(ctx)
	if err != nil {
		m.deps.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats
	return summary
}
