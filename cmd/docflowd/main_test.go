package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docflow/internal/logging"
	"docflow/internal/testsupport"
)

func TestLoadConfigRequiresRemote(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf("[paths]\ndata_dir = %q\nartifact_dir = %q\nlog_dir = %q\n\n[remote]\nbase_url = \"http://worker.local\"\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "artifacts"), filepath.Join(dir, "logs"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCFLOW_REMOTE_TOKEN", "")

	_, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "remote.token") {
		t.Fatalf("expected missing token error, got %v", err)
	}

	t.Setenv("DOCFLOW_REMOTE_TOKEN", "env-token")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Remote.Token != "env-token" {
		t.Fatalf("expected token from environment, got %q", cfg.Remote.Token)
	}
	if _, err := os.Stat(cfg.Paths.DataDir); err != nil {
		t.Fatalf("expected data dir to exist: %v", err)
	}
}

func TestBootstrapStartsDaemon(t *testing.T) {
	worker := testsupport.NewFakeWorker(t, "worker-token")
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(worker.URL(), "worker-token"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	d, err := bootstrap(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon to run")
	}
	d.Stop()
}
