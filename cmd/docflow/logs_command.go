package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/logs"
	"docflow/internal/stage"
)

const logFollowWait = 5 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log, optionally narrowed to a document, job or stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if filter.MinLevel != "" && !logs.ValidLevel(filter.MinLevel) {
				return fmt.Errorf("unknown log level %q (want debug, info, warn or error)", filter.MinLevel)
			}
			if filter.Stage != "" {
				st, ok := stage.Parse(filter.Stage)
				if !ok {
					return fmt.Errorf("unknown stage %q", filter.Stage)
				}
				filter.Stage = string(st)
			}

			path := cfg.LogPath()
			out := cmd.OutOrStdout()
			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			printLines(out, filter.Apply(result.Lines))
			if !follow {
				if len(result.Lines) == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log lines in %s\n", path)
				}
				return nil
			}

			offset := result.Offset
			for {
				next, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: offset, Follow: true, Wait: logFollowWait})
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				printLines(out, filter.Apply(next.Lines))
				offset = next.Offset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVarP(&filter.DocumentID, "document", "d", "", "Only entries for this document")
	cmd.Flags().Int64Var(&filter.JobID, "job", 0, "Only entries for this job id")
	cmd.Flags().StringVar(&filter.Stage, "stage", "", "Only entries for this stage")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level: debug, info, warn or error")
	return cmd
}

func printLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
