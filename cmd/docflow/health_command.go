package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/preflight"
	"docflow/internal/queue"
	"docflow/internal/remote"
)

const daemonProbeTimeout = 2 * time.Second

type healthCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type healthJobs struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"inFlight"`
	Finished  int `json:"finished"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

type healthReport struct {
	ConfigPath string        `json:"configPath"`
	Daemon     healthCheck   `json:"daemon"`
	Checks     []healthCheck `json:"checks"`
	Jobs       healthJobs    `json:"jobs"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run local diagnostics and probe the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				report := healthReport{ConfigPath: ctx.configPath}

				targets := preflight.Targets{Database: store}
				if cfg.Remote.BaseURL != "" {
					client, err := remote.NewFromConfig(cfg)
					if err != nil {
						return err
					}
					targets.Remote = client
				}
				for _, res := range preflight.RunAll(cmd.Context(), cfg, targets) {
					report.Checks = append(report.Checks, healthCheck(res))
				}

				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				report.Jobs = healthJobs(summary)
				report.Daemon = probeDaemon(cmd.Context(), cfg)

				return ctx.emit(cmd, report, func() string {
					return renderHealth(cmd, report)
				})
			})
		},
	}
}

// probeDaemon calls the daemon's /healthz endpoint on the configured bind
// address.
func probeDaemon(ctx context.Context, cfg *config.Config) healthCheck {
	check := healthCheck{Name: "Daemon"}
	addr := strings.TrimSpace(cfg.API.Bind)
	if addr == "" {
		check.Detail = "api bind not configured"
		return check
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	url := "http://" + addr + "/healthz"

	probeCtx, cancel := context.WithTimeout(ctx, daemonProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		check.Detail = "not reachable at " + addr
		return check
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		check.Detail = fmt.Sprintf("%s responded %s", addr, resp.Status)
		return check
	}
	check.Passed = true
	check.Detail = "running at " + addr
	return check
}

func renderHealth(cmd *cobra.Command, report healthReport) string {
	colorize := colorEnabled(cmd)
	var b strings.Builder
	if report.ConfigPath != "" {
		fmt.Fprintf(&b, "Config: %s\n", report.ConfigPath)
	}
	b.WriteString(healthLine(report.Daemon, colorize))
	for _, check := range report.Checks {
		b.WriteString(healthLine(check, colorize))
	}
	b.WriteString("\n")
	b.WriteString(renderTable(
		[]string{"Total", "Pending", "In flight", "Finished", "Failed", "Cancelled"},
		[][]string{{
			fmt.Sprint(report.Jobs.Total),
			fmt.Sprint(report.Jobs.Pending),
			fmt.Sprint(report.Jobs.InFlight),
			fmt.Sprint(report.Jobs.Finished),
			fmt.Sprint(report.Jobs.Failed),
			fmt.Sprint(report.Jobs.Cancelled),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return b.String()
}

func healthLine(check healthCheck, colorize bool) string {
	label := "OK"
	color := text.FgGreen
	if !check.Passed {
		label = "FAIL"
		color = text.FgRed
	}
	status := "[" + label + "]"
	if colorize {
		status = color.Sprint(status)
	}
	line := fmt.Sprintf("  %-20s %s", check.Name+":", status)
	if check.Detail != "" {
		line += " " + check.Detail
	}
	return line + "\n"
}
