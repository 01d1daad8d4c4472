package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// Index persists file records. queue.Store implements it.
type Index interface {
	AddDocumentFile(ctx context.Context, file queue.DocumentFile) (*queue.DocumentFile, bool, error)
	GetDocumentFile(ctx context.Context, documentID string, st stage.Stage, filename string) (*queue.DocumentFile, error)
	ListDocumentFiles(ctx context.Context, documentID string, st stage.Stage) ([]*queue.DocumentFile, error)
	UpdateDocumentFileLocation(ctx context.Context, id int64, path string, size int64) error
}

// Store keeps stage artifacts on the local filesystem under
// <base>/<document>/<stage-slug>/<filename> and indexes them.
type Store struct {
	baseDir string
	index   Index
}

// ErrInvalidName is returned for names that would escape the artifact tree.
var ErrInvalidName = errors.New("invalid artifact name")

// New creates the base directory when needed.
func New(baseDir string, index Index) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("artifact directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{baseDir: filepath.Clean(baseDir), index: index}, nil
}

// BaseDir returns the artifact root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path resolves the on-disk location of an artifact.
func (s *Store) Path(documentID string, st stage.Stage, filename string) (string, error) {
	if err := checkName(documentID); err != nil {
		return "", err
	}
	if err := checkName(filename); err != nil {
		return "", err
	}
	if !st.Valid() && st != stage.Source {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidName, st)
	}
	path := filepath.Join(s.baseDir, documentID, st.Slug(), filename)
	if !strings.HasPrefix(path, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidName)
	}
	return path, nil
}

// Has reports whether the artifact is both indexed and present on disk.
func (s *Store) Has(ctx context.Context, documentID string, st stage.Stage, filename string) (bool, error) {
	rec, err := s.index.GetDocumentFile(ctx, documentID, st, filename)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.Path == "" {
		return false, nil
	}
	if _, err := os.Stat(rec.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return true, nil
}

// Save writes r to the artifact location and indexes it. An artifact that is
// already stored is left alone and returned with created=false.
func (s *Store) Save(ctx context.Context, file queue.DocumentFile, r io.Reader) (*queue.DocumentFile, bool, error) {
	path, err := s.Path(file.DocumentID, file.Stage, file.Filename)
	if err != nil {
		return nil, false, err
	}
	if ok, err := s.Has(ctx, file.DocumentID, file.Stage, file.Filename); err != nil {
		return nil, false, err
	} else if ok {
		existing, err := s.index.GetDocumentFile(ctx, file.DocumentID, file.Stage, file.Filename)
		return existing, false, err
	}

	size, err := writeAtomic(path, r)
	if err != nil {
		return nil, false, err
	}
	file.Path = path
	file.Size = size
	if file.ContentType == "" {
		file.ContentType = mime.TypeByExtension(filepath.Ext(file.Filename))
	}
	rec, created, err := s.index.AddDocumentFile(ctx, file)
	if err != nil {
		return nil, false, err
	}
	if !created && (rec.Path != path || rec.Size != size) {
		// Indexed earlier but the file went missing; point the record at the new copy.
		if err := s.index.UpdateDocumentFileLocation(ctx, rec.ID, path, size); err != nil {
			return nil, false, err
		}
		rec.Path = path
		rec.Size = size
	}
	return rec, true, nil
}

// ImportSource copies an uploaded file into the SOURCE stage of a document.
func (s *Store) ImportSource(ctx context.Context, documentID, srcPath string) (*queue.DocumentFile, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "artifacts", "import source", "open upload", err)
	}
	defer f.Close()
	rec, _, err := s.Save(ctx, queue.DocumentFile{
		DocumentID: documentID,
		Stage:      stage.Source,
		Filename:   filepath.Base(srcPath),
	}, f)
	return rec, err
}

// RegisterSourceURL records a URL-only SOURCE reference for source-driven documents.
func (s *Store) RegisterSourceURL(ctx context.Context, documentID, filename, sourceURL string) (*queue.DocumentFile, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, services.Wrap(services.ErrValidation, "artifacts", "register source", "source url is empty", nil)
	}
	if err := checkName(filename); err != nil {
		return nil, err
	}
	rec, _, err := s.index.AddDocumentFile(ctx, queue.DocumentFile{
		DocumentID: documentID,
		Stage:      stage.Source,
		Filename:   filename,
		SourceURL:  sourceURL,
	})
	return rec, err
}

// Open returns a reader over a stored artifact.
func (s *Store) Open(ctx context.Context, documentID string, st stage.Stage, filename string) (io.ReadCloser, error) {
	rec, err := s.index.GetDocumentFile(ctx, documentID, st, filename)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Path == "" {
		return nil, services.Wrap(services.ErrNotFound, "artifacts", "open", fmt.Sprintf("%s/%s/%s", documentID, st, filename), nil)
	}
	return os.Open(rec.Path)
}

// List returns indexed artifacts of a document stage ("" for all stages).
func (s *Store) List(ctx context.Context, documentID string, st stage.Stage) ([]*queue.DocumentFile, error) {
	return s.index.ListDocumentFiles(ctx, documentID, st)
}

func checkName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return 0, fmt.Errorf("write artifact: %w", copyErr)
		}
		return 0, fmt.Errorf("close artifact: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("finalize artifact: %w", err)
	}
	return size, nil
}
