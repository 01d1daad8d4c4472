package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/queue"
	"docflow/internal/remote"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// ErrNoSource is matched by every NoSourceError.
var ErrNoSource = errors.New("no source found")

// NoSourceError reports a document with neither a stored file nor a
// resolvable URL.
type NoSourceError struct {
	DocumentID string
}

func (e *NoSourceError) Error() string {
	return "no source found for document " + e.DocumentID
}

// Is lets callers match both ErrNoSource and the validation marker.
func (e *NoSourceError) Is(target error) bool {
	return target == ErrNoSource || target == services.ErrValidation
}

// Files is the file index the handlers read from.
type Files interface {
	ListDocumentFiles(ctx context.Context, documentID string, st stage.Stage) ([]*queue.DocumentFile, error)
}

// Artifacts resolves where a stored artifact lives.
type Artifacts interface {
	Path(documentID string, st stage.Stage, filename string) (string, error)
}

// Env carries the dependencies shared by every handler.
type Env struct {
	Files     Files
	Artifacts Artifacts
	Sources   *SourceLocator
}

// Request is one stage job to prepare for the remote worker.
type Request struct {
	Job      *queue.Job
	Document *queue.Document
	// Inputs are the previous stage's output file names.
	Inputs     []string
	WebhookURL string
}

// Content is what a handler resolved as the stage input.
type Content struct {
	Inputs        []remote.InputRef
	ContentSource string
	SourceURL     string
}

// Handler prepares stage submissions for one document type.
type Handler interface {
	Type() queue.DocumentType
	GetContent(ctx context.Context, req Request) (Content, error)
	BuildRequest(req Request, content Content) remote.SubmitRequest
}

// ForDocument returns the handler for the document's type.
func ForDocument(doc *queue.Document, env Env) (Handler, error) {
	if doc == nil {
		return nil, services.Wrap(services.ErrValidation, "handlers", "dispatch", "document is required", nil)
	}
	b := base{env: env}
	switch doc.Type {
	case queue.DocumentTypeFile, "":
		return fileHandler{base: b}, nil
	case queue.DocumentTypeMedia:
		return mediaHandler{base: b}, nil
	case queue.DocumentTypeWeb:
		return webHandler{base: b}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "handlers", "dispatch", fmt.Sprintf("unsupported document type %q", doc.Type), nil)
	}
}

type base struct {
	env Env
}

// dependencyRefs points at the previous stage's stored outputs.
func (b base) dependencyRefs(req Request) ([]remote.InputRef, error) {
	prev, ok := req.Job.Stage.Previous()
	if !ok {
		return nil, nil
	}
	refs := make([]remote.InputRef, 0, len(req.Inputs))
	for _, name := range req.Inputs {
		ref := remote.InputRef{Name: name}
		if b.env.Artifacts != nil {
			path, err := b.env.Artifacts.Path(req.Document.ID, prev, name)
			if err != nil {
				return nil, services.Wrap(services.ErrValidation, "handlers", "resolve input", name, err)
			}
			ref.Path = path
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// sourceRefs lists the SOURCE files of the document.
func (b base) sourceRefs(ctx context.Context, documentID string) ([]remote.InputRef, error) {
	if b.env.Files == nil {
		return nil, nil
	}
	files, err := b.env.Files.ListDocumentFiles(ctx, documentID, stage.Source)
	if err != nil {
		return nil, err
	}
	refs := make([]remote.InputRef, 0, len(files))
	for _, f := range files {
		if f.Path == "" && f.SourceURL == "" {
			continue
		}
		refs = append(refs, remote.InputRef{
			Name:        f.Filename,
			Path:        f.Path,
			URL:         f.SourceURL,
			ContentType: f.ContentType,
		})
	}
	return refs, nil
}

func (b base) sourceURL(ctx context.Context, documentID string) (string, error) {
	if b.env.Sources == nil {
		return "", nil
	}
	return b.env.Sources.RecoverSourceURL(ctx, documentID)
}

// request assembles the submission common to every document type.
func (b base) request(req Request, content Content, extra map[string]any) remote.SubmitRequest {
	cfg := map[string]any{
		"document_type":  string(req.Document.Type),
		"content_source": content.ContentSource,
	}
	if title := strings.TrimSpace(req.Document.Title); title != "" {
		cfg["title"] = title
	}
	if content.SourceURL != "" {
		cfg["source_url"] = content.SourceURL
	}
	if req.Job.Stage == stage.Ingestor {
		if target := ingestTarget(req.Document.IngestTarget); target != nil {
			cfg["ingest_target"] = target
		}
	}
	for k, v := range extra {
		cfg[k] = v
	}
	inputs := content.Inputs
	if inputs == nil {
		inputs = []remote.InputRef{}
	}
	return remote.SubmitRequest{
		Stage:      req.Job.Stage,
		DocumentID: req.Document.ID,
		InputRefs:  inputs,
		Config:     cfg,
		WebhookURL: req.WebhookURL,
	}
}

// ingestTarget passes JSON credentials through untouched and anything else as
// a plain string.
func ingestTarget(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}

func validate(req Request) error {
	if req.Job == nil || req.Document == nil {
		return services.Wrap(services.ErrValidation, "handlers", "get content", "job and document are required", nil)
	}
	return nil
}
