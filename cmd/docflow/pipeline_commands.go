package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/queue"
	"docflow/internal/workflow"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect per-document pipeline progress",
	}
	pipelineCmd.AddCommand(newPipelineStatusCommand(ctx))
	return pipelineCmd
}

func newPipelineStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <document>",
		Short: "Show stage-by-stage progress for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(mgr *workflow.Manager, _ *queue.Store) error {
				status, err := mgr.PipelineStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				view := api.FromPipelineStatus(status)
				return ctx.emit(cmd, view, func() string {
					return renderPipeline(cmd, view)
				})
			})
		},
	}
}

func renderPipeline(cmd *cobra.Command, view api.Pipeline) string {
	rows := make([][]string, 0, len(view.Stages))
	for _, st := range view.Stages {
		execution := "-"
		if st.ExecutionID != 0 {
			execution = strconv.FormatInt(st.ExecutionID, 10)
		}
		rows = append(rows, []string{
			st.Stage,
			statusLabel(cmd, dashIfEmpty(st.Status)),
			yesNo(st.Completed),
			execution,
			dashIfEmpty(truncate(st.Error, 60)),
		})
	}
	out := renderTable([]string{"Stage", "Status", "Done", "Execution", "Error"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight})

	summary := fmt.Sprintf("%s: %d/%d stages (%.0f%%)", view.DocumentID, view.CompletedStages, len(view.Stages), view.Progress*100)
	switch {
	case view.Completed:
		summary += ", pipeline complete"
	case view.NextStage != "":
		summary += ", next " + view.NextStage
	}
	if view.Failed {
		summary += ", has failures"
	}
	return out + summary + "\n"
}
