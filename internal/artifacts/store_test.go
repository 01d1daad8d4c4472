package artifacts_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"docflow/internal/artifacts"
	"docflow/internal/queue"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
)

func newArtifactStore(t *testing.T) (*artifacts.Store, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewDocument(t, store, "doc-1", queue.DocumentTypeFile)
	arts, err := artifacts.New(cfg.Paths.ArtifactDir, store)
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}
	return arts, store
}

func TestSaveIsIdempotent(t *testing.T) {
	arts, _ := newArtifactStore(t)
	ctx := context.Background()
	file := queue.DocumentFile{DocumentID: "doc-1", Stage: stage.FactGenerator, Filename: "facts.json"}

	rec, created, err := arts.Save(ctx, file, strings.NewReader(`{"facts":[]}`))
	if err != nil || !created {
		t.Fatalf("Save: created=%v err=%v", created, err)
	}
	wantPath := filepath.Join(arts.BaseDir(), "doc-1", "fact-generator", "facts.json")
	if rec.Path != wantPath || rec.Size != int64(len(`{"facts":[]}`)) || rec.ContentType != "application/json" {
		t.Fatalf("unexpected record %+v", rec)
	}

	again, created, err := arts.Save(ctx, file, strings.NewReader("different"))
	if err != nil || created {
		t.Fatalf("repeat Save: created=%v err=%v", created, err)
	}
	if again.ID != rec.ID {
		t.Fatalf("expected same record, got %d vs %d", again.ID, rec.ID)
	}
	if got := testsupport.ReadFile(t, wantPath); got != `{"facts":[]}` {
		t.Fatalf("expected original content preserved, got %q", got)
	}

	rc, err := arts.Open(ctx, "doc-1", stage.FactGenerator, "facts.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != `{"facts":[]}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSaveRedownloadsMissingFile(t *testing.T) {
	arts, store := newArtifactStore(t)
	ctx := context.Background()
	store.AddDocumentFile(ctx, queue.DocumentFile{DocumentID: "doc-1", Stage: stage.Chunker, Filename: "chunks.json", Path: "/nonexistent/chunks.json"})

	ok, err := arts.Has(ctx, "doc-1", stage.Chunker, "chunks.json")
	if err != nil || ok {
		t.Fatalf("expected missing file to report false, ok=%v err=%v", ok, err)
	}
	rec, created, err := arts.Save(ctx, queue.DocumentFile{DocumentID: "doc-1", Stage: stage.Chunker, Filename: "chunks.json"}, strings.NewReader("[]"))
	if err != nil || !created {
		t.Fatalf("Save: created=%v err=%v", created, err)
	}
	if ok, _ := arts.Has(ctx, "doc-1", stage.Chunker, "chunks.json"); !ok || rec.Size != 2 {
		t.Fatalf("expected record repointed at the new copy, got %+v", rec)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	arts, _ := newArtifactStore(t)
	for _, name := range []string{"", "..", "../escape", "a/b", `a\b`} {
		if _, err := arts.Path("doc-1", stage.Conversion, name); !errors.Is(err, artifacts.ErrInvalidName) {
			t.Fatalf("Path(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := arts.Path("..", stage.Conversion, "ok.md"); !errors.Is(err, artifacts.ErrInvalidName) {
		t.Fatalf("expected document id traversal to be rejected, got %v", err)
	}
}

func TestImportAndRegisterSource(t *testing.T) {
	arts, _ := newArtifactStore(t)
	ctx := context.Background()
	upload := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "report.pdf"), "%PDF-1.7")

	rec, err := arts.ImportSource(ctx, "doc-1", upload)
	if err != nil {
		t.Fatalf("ImportSource: %v", err)
	}
	if rec.Stage != stage.Source || rec.Filename != "report.pdf" || rec.ContentType != "application/pdf" {
		t.Fatalf("unexpected source record %+v", rec)
	}

	if _, err := arts.RegisterSourceURL(ctx, "doc-1", "page.html", "https://example.test/page"); err != nil {
		t.Fatalf("RegisterSourceURL: %v", err)
	}
	files, _ := arts.List(ctx, "doc-1", stage.Source)
	if len(files) != 2 {
		t.Fatalf("expected 2 source files, got %d", len(files))
	}
	if _, err := arts.RegisterSourceURL(ctx, "doc-1", "x.html", " "); err == nil {
		t.Fatal("expected error for empty url")
	}
}
