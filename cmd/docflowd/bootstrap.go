package main

import (
	"fmt"
	"log/slog"

	"docflow/internal/artifacts"
	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/metrics"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/workflow"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateRemote(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bootstrap wires the store, remote client, artifact store, workflow manager
// and daemon. The returned daemon owns the store.
func bootstrap(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	client, err := remote.NewFromConfig(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create remote client: %w", err)
	}

	m := metrics.New()
	mgr := workflow.NewManager(cfg, store, client, arts, logger, workflow.WithMetrics(m))
	d, err := daemon.New(cfg, store, logger, mgr, daemon.WithRemote(client), daemon.WithMetrics(m))
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}
