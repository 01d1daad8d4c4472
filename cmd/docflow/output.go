package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"docflow/internal/api"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v as YAML using its JSON field names.
func writeYAML(cmd *cobra.Command, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// emit writes v in the selected structured format, or calls renderTable for
// the default table output.
func (c *commandContext) emit(cmd *cobra.Command, v any, renderTable func() string) error {
	format, err := c.outputFormat()
	if err != nil {
		return err
	}
	switch format {
	case outputJSON:
		return writeJSON(cmd, v)
	case outputYAML:
		return writeYAML(cmd, v)
	default:
		fmt.Fprint(cmd.OutOrStdout(), renderTable())
		return nil
	}
}

// colorEnabled reports whether stdout is an interactive terminal.
func colorEnabled(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// statusLabel colors well-known statuses when writing to a terminal.
func statusLabel(cmd *cobra.Command, status string) string {
	if !colorEnabled(cmd) {
		return status
	}
	switch strings.ToUpper(status) {
	case "FINISHED", "COMPLETED":
		return text.FgGreen.Sprint(status)
	case "FAILED":
		return text.FgRed.Sprint(status)
	case "CANCELLED":
		return text.FgYellow.Sprint(status)
	case "PROCESSING", "WAITING_FOR_REMOTE", "RUNNING":
		return text.FgCyan.Sprint(status)
	default:
		return status
	}
}

// relativeTime renders an API timestamp as "3 minutes ago".
func relativeTime(value string) string {
	return relativeTimeValue(api.ParseTime(value))
}

func relativeTimeValue(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func bytesLabel(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "\n", " "))
	if limit <= 0 || len([]rune(value)) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + "…"
}
