package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"docflow/internal/artifacts"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/workflow"
)

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

type commandContext struct {
	configFlag *string
	outputFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, outputFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		outputFlag: outputFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) outputFormat() (outputFormat, error) {
	if c.outputFlag == nil {
		return outputTable, nil
	}
	switch format := outputFormat(strings.ToLower(strings.TrimSpace(*c.outputFlag))); format {
	case "", outputTable:
		return outputTable, nil
	case outputJSON, outputYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", *c.outputFlag)
	}
}

// withStore opens the job store for the duration of fn.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withManager builds a workflow manager for operator actions. Its workers are
// never started; the daemon picks up whatever the manager writes.
func (c *commandContext) withManager(fn func(*workflow.Manager, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(func(store *queue.Store) error {
		arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
		if err != nil {
			return err
		}
		var worker workflow.RemoteWorker
		if cfg.Remote.BaseURL != "" {
			client, err := remote.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			worker = client
		}
		mgr := workflow.NewManager(cfg, store, worker, arts, logging.NewNop())
		return fn(mgr, store)
	})
}

// withArtifacts opens the job store and the artifact store for fn.
func (c *commandContext) withArtifacts(fn func(*artifacts.Store, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(func(store *queue.Store) error {
		arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
		if err != nil {
			return err
		}
		return fn(arts, store)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
