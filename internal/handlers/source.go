package handlers

import (
	"context"
	"strings"

	"docflow/internal/queue"
	"docflow/internal/stage"
)

// SourceStore is what the locator reads source hints from.
type SourceStore interface {
	LatestSourceHint(ctx context.Context, documentID string) (string, error)
	ListDocumentFiles(ctx context.Context, documentID string, st stage.Stage) ([]*queue.DocumentFile, error)
}

// SourceLocator recovers the source URL of source-driven documents.
type SourceLocator struct {
	store SourceStore
}

// NewSourceLocator wraps store.
func NewSourceLocator(store SourceStore) *SourceLocator {
	return &SourceLocator{store: store}
}

// RecoverSourceURL returns the newest source URL recorded in job metadata,
// falling back to the SOURCE file records. It returns "" when none is known.
func (l *SourceLocator) RecoverSourceURL(ctx context.Context, documentID string) (string, error) {
	if l == nil || l.store == nil {
		return "", nil
	}
	url, err := l.store.LatestSourceHint(ctx, documentID)
	if err != nil {
		return "", err
	}
	if url = strings.TrimSpace(url); url != "" {
		return url, nil
	}
	files, err := l.store.ListDocumentFiles(ctx, documentID, stage.Source)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if u := strings.TrimSpace(f.SourceURL); u != "" {
			return u, nil
		}
	}
	return "", nil
}
