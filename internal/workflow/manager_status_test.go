package workflow

import (
	"strings"
	"testing"
	"time"
)

func TestWorkerStatusHealth(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  WorkerStatus
		running bool
		ready   bool
		detail  string
	}{
		{
			name:    "recent tick",
			status:  WorkerStatus{Name: "poller", Interval: 10 * time.Second, LastRun: now.Add(-15 * time.Second)},
			running: true,
			ready:   true,
		},
		{
			name:    "never ticked",
			status:  WorkerStatus{Name: "poller", Interval: 10 * time.Second},
			running: true,
			ready:   true,
		},
		{
			name:    "last tick failed",
			status:  WorkerStatus{Name: "cleanup", Interval: time.Minute, LastRun: now, LastError: "database is locked"},
			running: true,
			detail:  "database is locked",
		},
		{
			name:    "stalled",
			status:  WorkerStatus{Name: "scheduler", Interval: 10 * time.Second, LastRun: now.Add(-time.Minute)},
			running: true,
			detail:  "no tick since 2026-03-01T08:59:00Z",
		},
		{
			name:    "stopped manager",
			status:  WorkerStatus{Name: "scheduler", Interval: 10 * time.Second, LastRun: now.Add(-time.Hour)},
			running: false,
			ready:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.status.health(tt.running, now)
			if got.Name != tt.status.Name || got.Ready != tt.ready {
				t.Fatalf("health = %+v, want ready=%v", got, tt.ready)
			}
			if !strings.Contains(got.Detail, tt.detail) {
				t.Fatalf("detail = %q, want %q", got.Detail, tt.detail)
			}
		})
	}
}
