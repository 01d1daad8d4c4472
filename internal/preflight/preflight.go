package preflight

import (
	"context"
	"strings"

	"docflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is anything that can prove it is reachable, such as the job store
// or the remote worker client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Targets carries the live dependencies RunAll probes. Nil targets are skipped.
type Targets struct {
	Database Pinger
	Remote   Pinger
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
	}

	if targets.Database != nil {
		results = append(results, CheckDatabase(ctx, cfg.Database.Driver, targets.Database))
	}
	if targets.Remote != nil {
		results = append(results, CheckRemote(ctx, cfg.Remote.BaseURL, targets.Remote))
	}
	results = append(results, CheckWebhook(cfg))
	return results
}

// Failed returns only the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// CheckWebhook reports whether remote workers can call back. Without a public
// URL the poller is the only completion path, which is valid but slower.
func CheckWebhook(cfg *config.Config) Result {
	const name = "Webhook"
	url := cfg.WebhookURL()
	if url == "" {
		return Result{Name: name, Passed: true, Detail: "disabled (poller only)"}
	}
	if strings.TrimSpace(cfg.API.WebhookSecret) == "" {
		return Result{Name: name, Passed: true, Detail: url + " (unauthenticated)"}
	}
	return Result{Name: name, Passed: true, Detail: url}
}
