package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"docflow/internal/api"
	"docflow/internal/queue"
	"docflow/internal/stage"
)

const (
	errorsSheet  = "Errors"
	summarySheet = "Summary"
)

type errorFilterFlags struct {
	document   string
	stage      string
	category   string
	unresolved bool
	limit      int
}

func (f *errorFilterFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVarP(&f.document, "document", "d", "", "Filter by document id")
	cmd.Flags().StringVar(&f.stage, "stage", "", "Filter by stage")
	cmd.Flags().StringVar(&f.category, "category", "", "Filter by failure category")
	cmd.Flags().BoolVar(&f.unresolved, "unresolved", false, "Only errors not yet resolved by a later success")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", defaultLimit, "Maximum number of errors (0 for all)")
}

func (f *errorFilterFlags) filter() (queue.ErrorFilter, error) {
	filter := queue.ErrorFilter{
		DocumentID:     strings.TrimSpace(f.document),
		Category:       strings.TrimSpace(f.category),
		UnresolvedOnly: f.unresolved,
		Limit:          f.limit,
	}
	if f.stage != "" {
		st, ok := stage.Parse(f.stage)
		if !ok {
			return queue.ErrorFilter{}, fmt.Errorf("unknown stage %q", f.stage)
		}
		filter.Stage = st
	}
	return filter, nil
}

func newErrorsCommand(ctx *commandContext) *cobra.Command {
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect the processing error audit trail",
	}
	errorsCmd.AddCommand(newErrorsListCommand(ctx))
	errorsCmd.AddCommand(newErrorsExportCommand(ctx))
	errorsCmd.AddCommand(newErrorsResolveCommand(ctx))
	return errorsCmd
}

func newErrorsListCommand(ctx *commandContext) *cobra.Command {
	var flags errorFilterFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded processing errors, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				recs, err := store.ListErrors(cmd.Context(), filter)
				if err != nil {
					return err
				}
				items := api.FromProcessingErrors(recs)
				return ctx.emit(cmd, items, func() string {
					if len(items) == 0 {
						return "No errors recorded\n"
					}
					rows := make([][]string, 0, len(items))
					for _, item := range items {
						rows = append(rows, []string{
							strconv.FormatInt(item.ID, 10),
							item.DocumentID,
							item.Stage,
							item.Category,
							strconv.Itoa(item.Attempt),
							yesNo(item.ResolvedAt != ""),
							truncate(item.Message, 60),
							relativeTime(item.CreatedAt),
						})
					}
					return renderTable(
						[]string{"ID", "Document", "Stage", "Category", "Attempt", "Resolved", "Message", "Recorded"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
					)
				})
			})
		},
	}

	flags.register(cmd, 50)
	return cmd
}

func newErrorsExportCommand(ctx *commandContext) *cobra.Command {
	var (
		flags errorFilterFlags
		path  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the error audit trail to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			path = strings.TrimSpace(path)
			if path == "" {
				return fmt.Errorf("--path is required")
			}
			if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
				path += ".xlsx"
			}
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				recs, err := store.ListErrors(cmd.Context(), filter)
				if err != nil {
					return err
				}
				items := api.FromProcessingErrors(recs)
				f, err := buildErrorWorkbook(items)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := f.SaveAs(path); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d errors to %s\n", len(items), path)
				return nil
			})
		},
	}

	flags.register(cmd, 0)
	cmd.Flags().StringVarP(&path, "path", "p", "", "Destination XLSX file")
	return cmd
}

// buildErrorWorkbook lays out one row per audit record plus a per
// (stage, category) summary sheet.
func buildErrorWorkbook(items []api.ProcessingError) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", errorsSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	headers := []string{"ID", "Job", "Document", "Stage", "Category", "Attempt", "Retryable", "Retry At", "Resolved At", "Created At", "Message"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(errorsSheet, cell, h)
	}

	type summaryKey struct{ stage, category string }
	counts := make(map[summaryKey][2]int)

	for i, item := range items {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(errorsSheet, cell, v)
		}
		write(1, item.ID)
		if item.JobID != 0 {
			write(2, item.JobID)
		}
		write(3, item.DocumentID)
		write(4, item.Stage)
		write(5, item.Category)
		write(6, item.Attempt)
		write(7, yesNo(item.IsRetryable))
		write(8, item.RetryAt)
		write(9, item.ResolvedAt)
		write(10, item.CreatedAt)
		write(11, item.Message)

		key := summaryKey{stage: item.Stage, category: item.Category}
		c := counts[key]
		c[0]++
		if item.ResolvedAt == "" {
			c[1]++
		}
		counts[key] = c
	}

	_ = f.SetColWidth(errorsSheet, "A", "B", 8)
	_ = f.SetColWidth(errorsSheet, "C", "C", 24)
	_ = f.SetColWidth(errorsSheet, "D", "E", 18)
	_ = f.SetColWidth(errorsSheet, "F", "G", 10)
	_ = f.SetColWidth(errorsSheet, "H", "J", 22)
	_ = f.SetColWidth(errorsSheet, "K", "K", 80)

	if _, err := f.NewSheet(summarySheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, h := range []string{"Stage", "Category", "Total", "Unresolved"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	keys := make([]summaryKey, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		ai, bi := stageRank(a.stage), stageRank(b.stage)
		if ai != bi {
			return ai < bi
		}
		return a.category < b.category
	})
	for i, key := range keys {
		row := i + 2
		values := []any{key.stage, key.category, counts[key][0], counts[key][1]}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(summarySheet, cell, v)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "B", 18)

	if index, err := f.GetSheetIndex(errorsSheet); err == nil {
		f.SetActiveSheet(index)
	}
	return f, nil
}

func stageRank(name string) int {
	st, ok := stage.Parse(name)
	if !ok {
		return stage.Count() + 1
	}
	if st == stage.Source {
		return -1
	}
	return st.Index()
}

func newErrorsResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <document> <stage>",
		Short: "Mark every open error of a document stage as resolved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := stage.Parse(args[1])
			if !ok {
				return fmt.Errorf("unknown stage %q", args[1])
			}
			return ctx.withStore(func(store *queue.Store) error {
				n, err := store.ResolveErrors(cmd.Context(), args[0], st)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d errors for %s/%s\n", n, args[0], st)
				return nil
			})
		},
	}
}
