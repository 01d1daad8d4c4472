package handlers_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"docflow/internal/artifacts"
	"docflow/internal/handlers"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
)

type fixture struct {
	store     *queue.Store
	artifacts *artifacts.Store
	env       handlers.Env
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}
	return fixture{
		store:     store,
		artifacts: arts,
		env: handlers.Env{
			Files:     store,
			Artifacts: arts,
			Sources:   handlers.NewSourceLocator(store),
		},
	}
}

func TestForDocumentDispatch(t *testing.T) {
	f := newFixture(t)
	tests := []queue.DocumentType{queue.DocumentTypeFile, queue.DocumentTypeMedia, queue.DocumentTypeWeb}
	for _, docType := range tests {
		h, err := handlers.ForDocument(&queue.Document{ID: "d", Type: docType}, f.env)
		if err != nil {
			t.Fatalf("ForDocument(%s): %v", docType, err)
		}
		if h.Type() != docType {
			t.Fatalf("ForDocument(%s) returned %s handler", docType, h.Type())
		}
	}
	if _, err := handlers.ForDocument(&queue.Document{ID: "d", Type: "FAX"}, f.env); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestFileHandlerUsesUploadedSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, f.store, "doc-1", queue.DocumentTypeFile)
	upload := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "report.pdf"), "pdf bytes")
	if _, err := f.artifacts.ImportSource(ctx, doc.ID, upload); err != nil {
		t.Fatalf("ImportSource: %v", err)
	}
	job := testsupport.NewJob(t, f.store, doc.ID, stage.Conversion)

	h, _ := handlers.ForDocument(doc, f.env)
	req := handlers.Request{Job: job, Document: doc, WebhookURL: "http://hook"}
	content, err := h.GetContent(ctx, req)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if len(content.Inputs) != 1 || content.Inputs[0].Name != "report.pdf" || content.Inputs[0].Path == "" {
		t.Fatalf("unexpected inputs %+v", content.Inputs)
	}

	sub := h.BuildRequest(req, content)
	if sub.Stage != stage.Conversion || sub.DocumentID != doc.ID || sub.WebhookURL != "http://hook" {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if sub.Config["document_type"] != "FILE" || sub.Config["content_source"] != "upload" {
		t.Fatalf("unexpected config %+v", sub.Config)
	}
}

func TestFileHandlerWithoutSourceFails(t *testing.T) {
	f := newFixture(t)
	doc := testsupport.NewDocument(t, f.store, "doc-1", queue.DocumentTypeFile)
	job := testsupport.NewJob(t, f.store, doc.ID, stage.Conversion)

	h, _ := handlers.ForDocument(doc, f.env)
	_, err := h.GetContent(context.Background(), handlers.Request{Job: job, Document: doc})
	if !errors.Is(err, handlers.ErrNoSource) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected no-source validation error, got %v", err)
	}
	if err.Error() != "no source found for document doc-1" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestLaterStagesUseDependencyOutputs(t *testing.T) {
	f := newFixture(t)
	doc := testsupport.NewDocument(t, f.store, "doc-1", queue.DocumentTypeWeb)
	job := testsupport.NewJob(t, f.store, doc.ID, stage.Chunker)

	h, _ := handlers.ForDocument(doc, f.env)
	content, err := h.GetContent(context.Background(), handlers.Request{Job: job, Document: doc, Inputs: []string{"optimized.md"}})
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	want, _ := f.artifacts.Path(doc.ID, stage.Optimizer, "optimized.md")
	if len(content.Inputs) != 1 || content.Inputs[0].Path != want {
		t.Fatalf("expected optimizer output at %s, got %+v", want, content.Inputs)
	}
}

func TestSourceDrivenRecoversURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, f.store, "doc-1", queue.DocumentTypeMedia)
	h, _ := handlers.ForDocument(doc, f.env)

	job, _, err := f.store.CreateJob(ctx, queue.NewJob{DocumentID: doc.ID, Stage: stage.Conversion})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := h.GetContent(ctx, handlers.Request{Job: job, Document: doc}); !errors.Is(err, handlers.ErrNoSource) {
		t.Fatalf("expected ErrNoSource without any url, got %v", err)
	}

	if _, err := f.artifacts.RegisterSourceURL(ctx, doc.ID, "episode.mp3", "https://files.example/episode.mp3"); err != nil {
		t.Fatalf("RegisterSourceURL: %v", err)
	}
	content, err := h.GetContent(ctx, handlers.Request{Job: job, Document: doc})
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if content.SourceURL != "https://files.example/episode.mp3" || content.ContentSource != "media" {
		t.Fatalf("unexpected content %+v", content)
	}
	sub := h.BuildRequest(handlers.Request{Job: job, Document: doc}, content)
	if sub.Config["conversion_mode"] != "transcribe" || sub.Config["source_url"] != content.SourceURL {
		t.Fatalf("unexpected config %+v", sub.Config)
	}
}

func TestSourceLocatorPrefersJobMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, f.store, "doc-1", queue.DocumentTypeWeb)
	if _, err := f.artifacts.RegisterSourceURL(ctx, doc.ID, "page.html", "https://old.example/page"); err != nil {
		t.Fatalf("RegisterSourceURL: %v", err)
	}
	if _, _, err := f.store.CreateJob(ctx, queue.NewJob{
		DocumentID: doc.ID,
		Stage:      stage.Conversion,
		Metadata:   queue.JobMetadata{Source: &queue.SourceHint{URL: "https://new.example/page"}},
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	url, err := handlers.NewSourceLocator(f.store).RecoverSourceURL(ctx, doc.ID)
	if err != nil {
		t.Fatalf("RecoverSourceURL: %v", err)
	}
	if url != "https://new.example/page" {
		t.Fatalf("expected metadata hint, got %q", url)
	}
}

func TestIngestorReceivesTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.store.CreateDocument(ctx, queue.Document{ID: "doc-1", IngestTarget: `{"dsn":"postgres://db"}`})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	job := testsupport.NewJob(t, f.store, doc.ID, stage.Ingestor)
	h, _ := handlers.ForDocument(doc, f.env)
	req := handlers.Request{Job: job, Document: doc, Inputs: []string{"facts.json"}}
	content, err := h.GetContent(ctx, req)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	target, ok := h.BuildRequest(req, content).Config["ingest_target"].(map[string]any)
	if !ok || target["dsn"] != "postgres://db" {
		t.Fatalf("expected decoded ingest target, got %+v", target)
	}
}
