package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"docflow/internal/api"
	"docflow/internal/artifacts"
	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/logging"
	"docflow/internal/metrics"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/testsupport"
	"docflow/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}
	client, err := remote.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("remote.NewFromConfig: %v", err)
	}
	m := metrics.New()
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, client, arts, logger, workflow.WithMetrics(m))
	d, err := daemon.New(cfg, store, logger, mgr, daemon.WithRemote(client), daemon.WithMetrics(m))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	worker := testsupport.NewFakeWorker(t, "worker-token")
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(worker.URL(), "worker-token"))
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.DatabaseDriver != "sqlite" {
		t.Fatalf("unexpected driver %q", status.DatabaseDriver)
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if !status.Workflow.Running || len(status.Workflow.Workers) != 5 {
		t.Fatalf("unexpected workflow status: %+v", status.Workflow)
	}
	for _, check := range status.Checks {
		if !check.Passed {
			t.Fatalf("check %q failed: %s", check.Name, check.Detail)
		}
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected api listener address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, health)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddr() != "" {
		t.Fatal("expected api server to be stopped")
	}
	// Stop is idempotent.
	d.Stop()
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	err := second.Start(ctx)
	if err == nil {
		t.Fatal("expected lock contention error")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Status(ctx).Running {
		t.Fatal("second daemon must not report running")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
