package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"librarian/internal/adapter/chunker"
	"librarian/internal/adapter/fs"
	"librarian/internal/domain"
	"librarian/internal/port"
)

// Coordinator orchestrates chunk -> embed -> store for one document.
// Ingestion is idempotent: re-ingesting an already-ingested identity
// without force is a no-op, even if the text changed. All chunking and
// embedding completes before the single atomic store call, so a failure at
// any step leaves the document unindexed rather than half-indexed.
type Coordinator struct {
	store      port.FragmentStore
	chunker    port.Chunker
	embedder   port.Embedder
	onIngested func(domain.Document)

	mu       sync.Mutex
	inflight map[string]struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithOnIngested registers a callback invoked after a document's ingestion
// record commits. Decouples the engine from UI refresh logic.
func WithOnIngested(fn func(domain.Document)) CoordinatorOption {
	return func(c *Coordinator) { c.onIngested = fn }
}

// NewCoordinator creates an ingestion coordinator.
func NewCoordinator(store port.FragmentStore, chk port.Chunker, embedder port.Embedder, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:    store,
		chunker:  chk,
		embedder: embedder,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestResult describes the outcome of one ingestion.
type IngestResult struct {
	DocID     string
	Fragments int
	Skipped   bool
}

// Ingest indexes one document's normalized text under docID. With force,
// the prior fragment set is discarded and replaced atomically.
func (c *Coordinator) Ingest(ctx context.Context, docID, title, text string, force bool) (*IngestResult, error) {
	if docID == "" {
		return nil, fmt.Errorf("document id must not be empty")
	}

	if err := c.acquire(docID); err != nil {
		return nil, err
	}
	defer c.release(docID)

	exists, err := c.store.HasDocument(docID)
	if err != nil {
		return nil, fmt.Errorf("failed to check document %s: %w", docID, err)
	}
	if exists && !force {
		return &IngestResult{DocID: docID, Skipped: true}, nil
	}

	text = chunker.Normalize(text)

	texts, err := c.chunker.Chunk(text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", docID, err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("document %s produced no fragments", docID)
	}

	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", docID, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d fragments, %d vectors", domain.ErrEmbeddingMismatch, len(texts), len(vectors))
	}

	fragments := make([]domain.Fragment, len(texts))
	for i := range texts {
		fragments[i] = domain.Fragment{
			DocID:   docID,
			Ordinal: i,
			Text:    texts[i],
			Vector:  vectors[i],
		}
	}

	doc := domain.Document{
		ID:         docID,
		Title:      title,
		TextLen:    len(text),
		Status:     domain.StatusComplete,
		IngestedAt: time.Now(),
	}

	// The one store mutation. Its atomicity guarantee means any failure
	// here leaves either the old set (force) or nothing (fresh ingest).
	if err := c.store.UpsertFragments(doc, fragments); err != nil {
		return nil, fmt.Errorf("failed to store fragments for %s: %w", docID, err)
	}

	if c.onIngested != nil {
		c.onIngested(doc)
	}

	return &IngestResult{DocID: docID, Fragments: len(fragments)}, nil
}

// Remove deletes a document's fragments and ingestion record.
func (c *Coordinator) Remove(docID string) error {
	if err := c.acquire(docID); err != nil {
		return err
	}
	defer c.release(docID)
	return c.store.DeleteDocument(docID)
}

func (c *Coordinator) acquire(docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[docID]; busy {
		return fmt.Errorf("%w: %s", domain.ErrIngestInProgress, docID)
	}
	c.inflight[docID] = struct{}{}
	return nil
}

func (c *Coordinator) release(docID string) {
	c.mu.Lock()
	delete(c.inflight, docID)
	c.mu.Unlock()
}

// DirResult contains the results of ingesting a library directory.
type DirResult struct {
	Ingested int
	Skipped  int
	Errors   []string
}

// IngestDir ingests every matching file under root. The file path relative
// to root is the document identity and its base name the title. Per-file
// failures are collected; they do not abort the batch.
func (c *Coordinator) IngestDir(ctx context.Context, walker *fs.Walker, root string, force bool, progress func(done, total int, path string)) (*DirResult, error) {
	files, err := walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	result := &DirResult{}
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		text, err := fs.ReadFile(file.Path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.RelPath, err))
			continue
		}

		res, err := c.Ingest(ctx, file.RelPath, fileTitle(file.RelPath), text, force)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.RelPath, err))
			continue
		}
		if res.Skipped {
			result.Skipped++
		} else {
			result.Ingested++
		}

		if progress != nil {
			progress(i+1, len(files), file.RelPath)
		}
	}

	return result, nil
}

// fileTitle derives a display title from a relative path.
func fileTitle(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
