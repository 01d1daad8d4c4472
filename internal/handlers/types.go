package handlers

import (
	"context"

	"docflow/internal/queue"
	"docflow/internal/remote"
)

const (
	contentSourceUpload = "upload"
	contentSourceMedia  = "media"
	contentSourceWeb    = "web"
)

type fileHandler struct{ base }

func (fileHandler) Type() queue.DocumentType { return queue.DocumentTypeFile }

// GetContent uses the uploaded SOURCE files for the first stage and the
// previous stage's outputs afterwards.
func (h fileHandler) GetContent(ctx context.Context, req Request) (Content, error) {
	if err := validate(req); err != nil {
		return Content{}, err
	}
	content := Content{ContentSource: contentSourceUpload}
	if _, ok := req.Job.Stage.Previous(); ok {
		refs, err := h.dependencyRefs(req)
		content.Inputs = refs
		return content, err
	}
	refs, err := h.sourceRefs(ctx, req.Document.ID)
	if err != nil {
		return Content{}, err
	}
	if len(refs) == 0 {
		return Content{}, &NoSourceError{DocumentID: req.Document.ID}
	}
	content.Inputs = refs
	return content, nil
}

func (h fileHandler) BuildRequest(req Request, content Content) remote.SubmitRequest {
	return h.request(req, content, nil)
}

type mediaHandler struct{ base }

func (mediaHandler) Type() queue.DocumentType { return queue.DocumentTypeMedia }

func (h mediaHandler) GetContent(ctx context.Context, req Request) (Content, error) {
	return h.sourceDriven(ctx, req, contentSourceMedia)
}

func (h mediaHandler) BuildRequest(req Request, content Content) remote.SubmitRequest {
	extra := map[string]any{}
	if _, ok := req.Job.Stage.Previous(); !ok {
		extra["conversion_mode"] = "transcribe"
	}
	return h.request(req, content, extra)
}

type webHandler struct{ base }

func (webHandler) Type() queue.DocumentType { return queue.DocumentTypeWeb }

func (h webHandler) GetContent(ctx context.Context, req Request) (Content, error) {
	return h.sourceDriven(ctx, req, contentSourceWeb)
}

func (h webHandler) BuildRequest(req Request, content Content) remote.SubmitRequest {
	extra := map[string]any{}
	if _, ok := req.Job.Stage.Previous(); !ok {
		extra["conversion_mode"] = "scrape"
	}
	return h.request(req, content, extra)
}

// sourceDriven resolves content for MEDIA and WEB documents. The first stage
// needs a stored source file or a recoverable URL.
func (b base) sourceDriven(ctx context.Context, req Request, contentSource string) (Content, error) {
	if err := validate(req); err != nil {
		return Content{}, err
	}
	url, err := b.sourceURL(ctx, req.Document.ID)
	if err != nil {
		return Content{}, err
	}
	content := Content{ContentSource: contentSource, SourceURL: url}
	if _, ok := req.Job.Stage.Previous(); ok {
		refs, err := b.dependencyRefs(req)
		content.Inputs = refs
		return content, err
	}

	refs, err := b.sourceRefs(ctx, req.Document.ID)
	if err != nil {
		return Content{}, err
	}
	if len(refs) == 0 && url != "" {
		refs = []remote.InputRef{{Name: "source", URL: url}}
	}
	if len(refs) == 0 {
		return Content{}, &NoSourceError{DocumentID: req.Document.ID}
	}
	content.Inputs = refs
	return content, nil
}
