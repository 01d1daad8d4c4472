package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/queue"
	"docflow/internal/stage"
	"docflow/internal/workflow"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage processing jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsTriggerCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		document string
		stageArg string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := api.ParseStatuses(statuses)
			if err != nil {
				return err
			}
			filter := queue.JobFilter{DocumentID: strings.TrimSpace(document), Statuses: parsed, Limit: limit}
			if stageArg != "" {
				st, ok := stage.Parse(stageArg)
				if !ok {
					return fmt.Errorf("unknown stage %q", stageArg)
				}
				filter.Stage = st
			}
			return ctx.withStore(func(store *queue.Store) error {
				items, err := api.NewJobService(store).List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if items == nil {
					items = []api.Job{}
				}
				return ctx.emit(cmd, items, func() string {
					if len(items) == 0 {
						return "No jobs\n"
					}
					return renderTable(
						[]string{"ID", "Document", "Stage", "Status", "Trigger", "Retries", "Remote Task", "Updated"},
						buildJobRows(cmd, items),
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
					)
				})
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().StringVarP(&document, "document", "d", "", "Filter by document id")
	cmd.Flags().StringVar(&stageArg, "stage", "", "Filter by stage")
	cmd.Flags().IntVarP(&limit, "limit", "n", api.DefaultJobListLimit, "Maximum number of jobs")
	return cmd
}

func buildJobRows(cmd *cobra.Command, items []api.Job) [][]string {
	rows := make([][]string, 0, len(items))
	for _, job := range items {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.DocumentID,
			job.Stage,
			statusLabel(cmd, job.Status),
			dashIfEmpty(job.Trigger),
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			dashIfEmpty(job.RemoteTaskID),
			relativeTime(job.UpdatedAt),
		})
	}
	return rows
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				job, err := api.NewJobService(store).Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				return ctx.emit(cmd, job, func() string {
					return renderKeyValues(jobDetails(cmd, job))
				})
			})
		},
	}
}

func jobDetails(cmd *cobra.Command, job *api.Job) [][2]string {
	pairs := [][2]string{
		{"ID", strconv.FormatInt(job.ID, 10)},
		{"Document", job.DocumentID},
		{"Stage", job.Stage},
		{"Status", statusLabel(cmd, job.Status)},
		{"Trigger", dashIfEmpty(job.Trigger)},
		{"Priority", strconv.Itoa(job.Priority)},
		{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
		{"Remote task", dashIfEmpty(job.RemoteTaskID)},
		{"Source URL", dashIfEmpty(job.SourceURL)},
		{"Scheduled", relativeTime(job.ScheduledAt)},
		{"Started", relativeTime(job.StartedAt)},
		{"Completed", relativeTime(job.CompletedAt)},
	}
	if job.Progress != nil {
		pairs = append(pairs, [2]string{"Progress", fmt.Sprintf("%.0f%% %s", job.Progress.Percent, job.Progress.Step)})
	}
	if job.ReplacesJob != 0 {
		pairs = append(pairs, [2]string{"Replaces job", strconv.FormatInt(job.ReplacesJob, 10)})
	}
	if job.ErrorMessage != "" {
		pairs = append(pairs, [2]string{"Error", job.ErrorMessage})
	}
	if job.CleanedUp {
		pairs = append(pairs, [2]string{"Remote cleanup", fmt.Sprintf("%d files, %s freed", job.FilesDeleted, bytesLabel(job.BytesFreed))})
	}
	return pairs
}

func newJobsTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <document> <stage>",
		Short: "Enqueue a stage for a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := stage.Parse(args[1])
			if !ok || st == stage.Source {
				return fmt.Errorf("unknown stage %q", args[1])
			}
			return ctx.withManager(func(mgr *workflow.Manager, _ *queue.Store) error {
				job, created, err := mgr.TriggerStage(cmd.Context(), args[0], st)
				if err != nil {
					return err
				}
				resp := api.TriggerResponse{Item: api.FromJob(job), Created: created}
				return ctx.emit(cmd, resp, func() string {
					if !created {
						return fmt.Sprintf("Job %d is already %s for %s/%s\n", job.ID, job.Status, job.DocumentID, job.Stage)
					}
					return fmt.Sprintf("Queued job %d for %s/%s\n", job.ID, job.DocumentID, job.Stage)
				})
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Put a FAILED or CANCELLED job back in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withManager(func(mgr *workflow.Manager, _ *queue.Store) error {
				job, err := mgr.RetryJob(cmd.Context(), id)
				if err != nil {
					if errors.Is(err, queue.ErrActiveJobExists) {
						return fmt.Errorf("job %d cannot be retried: another job for the same stage is active", id)
					}
					return err
				}
				return ctx.emit(cmd, api.FromJob(job), func() string {
					return fmt.Sprintf("Job %d requeued (attempt %d)\n", job.ID, job.RetryCount)
				})
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withManager(func(mgr *workflow.Manager, _ *queue.Store) error {
				cancelled, err := mgr.CancelJob(cmd.Context(), id, reason)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.CancelResponse{Cancelled: cancelled}, func() string {
					if !cancelled {
						return fmt.Sprintf("Job %d already finished; nothing to cancel\n", id)
					}
					return fmt.Sprintf("Job %d cancelled\n", id)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason recorded on the job and document")
	return cmd
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := api.NewJobService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, stats, func() string {
					return renderTable([]string{"Status", "Count"}, buildStatusRows(cmd, stats), []columnAlignment{alignLeft, alignRight})
				})
			})
		},
	}
}

func buildStatusRows(cmd *cobra.Command, stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		rows = append(rows, []string{statusLabel(cmd, string(status)), strconv.Itoa(stats[string(status)])})
	}
	return rows
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}
