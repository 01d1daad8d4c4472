package main

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/artifacts"
	"docflow/internal/queue"
)

func newDocumentsCommand(ctx *commandContext) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Register and control pipeline documents",
	}

	docsCmd.AddCommand(newDocumentsAddCommand(ctx))
	docsCmd.AddCommand(newDocumentsListCommand(ctx))
	docsCmd.AddCommand(newDocumentsPauseCommand(ctx, true))
	docsCmd.AddCommand(newDocumentsPauseCommand(ctx, false))
	docsCmd.AddCommand(newDocumentsModeCommand(ctx))

	return docsCmd
}

func newDocumentsAddCommand(ctx *commandContext) *cobra.Command {
	var (
		title        string
		docType      string
		mode         string
		sourceFile   string
		sourceURL    string
		filename     string
		ingestTarget string
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a document and its source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			kind, ok := queue.ParseDocumentType(docType)
			if !ok {
				return fmt.Errorf("unknown document type %q (want file, media or web)", docType)
			}
			processing, ok := queue.ParseProcessingMode(mode)
			if !ok {
				return fmt.Errorf("unknown processing mode %q (want automatic or manual)", mode)
			}
			if kind.SourceDriven() {
				if strings.TrimSpace(sourceURL) == "" {
					return fmt.Errorf("%s documents need --url", strings.ToLower(string(kind)))
				}
			} else if strings.TrimSpace(sourceFile) == "" {
				return errors.New("file documents need --file")
			}

			return ctx.withArtifacts(func(arts *artifacts.Store, store *queue.Store) error {
				existing, err := store.GetDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				if existing != nil {
					return fmt.Errorf("document %s already exists", id)
				}
				doc, err := store.CreateDocument(cmd.Context(), queue.Document{
					ID:             id,
					Title:          title,
					Type:           kind,
					ProcessingMode: processing,
					IngestTarget:   strings.TrimSpace(ingestTarget),
				})
				if err != nil {
					return err
				}

				var source *queue.DocumentFile
				if kind.SourceDriven() {
					name := filename
					if name == "" {
						name = filenameFromURL(sourceURL)
					}
					source, err = arts.RegisterSourceURL(cmd.Context(), id, name, sourceURL)
				} else {
					source, err = arts.ImportSource(cmd.Context(), id, sourceFile)
				}
				if err != nil {
					// Leave no half-registered document behind.
					_, _ = store.DeleteDocument(cmd.Context(), id)
					return fmt.Errorf("register source: %w", err)
				}

				return ctx.emit(cmd, api.FromDocument(doc), func() string {
					return fmt.Sprintf("Added %s document %s (%s) with source %s\n",
						strings.ToLower(string(doc.Type)), doc.ID, strings.ToLower(string(doc.ProcessingMode)), source.Filename)
				})
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Human readable title")
	cmd.Flags().StringVarP(&docType, "type", "t", "file", "Document type: file, media or web")
	cmd.Flags().StringVarP(&mode, "mode", "m", "automatic", "Processing mode: automatic or manual")
	cmd.Flags().StringVarP(&sourceFile, "file", "f", "", "Source file to import (file documents)")
	cmd.Flags().StringVarP(&sourceURL, "url", "u", "", "Source URL (media and web documents)")
	cmd.Flags().StringVar(&filename, "filename", "", "Stored name for a URL source (defaults to the URL's last path segment)")
	cmd.Flags().StringVar(&ingestTarget, "ingest-target", "", "JSON credentials for the INGESTOR stage")
	return cmd
}

func newDocumentsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				docs, err := store.ListDocuments(cmd.Context())
				if err != nil {
					return err
				}
				items := api.FromDocuments(docs)
				return ctx.emit(cmd, items, func() string {
					if len(items) == 0 {
						return "No documents\n"
					}
					rows := make([][]string, 0, len(items))
					for _, doc := range items {
						rows = append(rows, []string{
							doc.ID,
							truncate(dashIfEmpty(doc.Title), 32),
							doc.Type,
							doc.ProcessingMode,
							yesNo(doc.Paused),
							dashIfEmpty(doc.CurrentStage),
							statusLabel(cmd, dashIfEmpty(doc.StageStatus)),
							relativeTime(doc.UpdatedAt),
						})
					}
					return renderTable(
						[]string{"ID", "Title", "Type", "Mode", "Paused", "Stage", "Status", "Updated"},
						rows, nil,
					)
				})
			})
		},
	}
}

func newDocumentsPauseCommand(ctx *commandContext, paused bool) *cobra.Command {
	use, short, verb := "pause <id>", "Stop the scheduler from advancing a document", "Paused"
	if !paused {
		use, short, verb = "resume <id>", "Let the scheduler advance a paused document", "Resumed"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				if err := store.SetDocumentPaused(cmd.Context(), args[0], paused); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s document %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func newDocumentsModeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <id> <automatic|manual>",
		Short: "Switch a document between automatic and manual processing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := queue.ParseProcessingMode(args[1])
			if !ok {
				return fmt.Errorf("unknown processing mode %q (want automatic or manual)", args[1])
			}
			return ctx.withStore(func(store *queue.Store) error {
				if err := store.SetDocumentMode(cmd.Context(), args[0], mode); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document %s is now %s\n", args[0], strings.ToLower(string(mode)))
				return nil
			})
		},
	}
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "source"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "source"
	}
	return name
}
