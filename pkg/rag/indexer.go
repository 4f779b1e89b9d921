package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/archivahq/archiva/pkg/embedder"
	"github.com/archivahq/archiva/pkg/store"
)

// Human-readable reasons recorded on files whose embedding failed.
const (
	reasonNoContent   = "No text content to embed"
	reasonNoBackend   = "Embeddings disabled: no API key configured"
	reasonAuthFailure = "API key invalid or expired"
	reasonRateLimited = "Rate limit exceeded, try again shortly"
	reasonTimeout     = "Request timed out, try again"
	reasonUnexpected  = "Unexpected error during embedding"
)

// IndexStore is the slice of the record store the indexer needs.
type IndexStore interface {
	SetEmbeddingStatus(ctx context.Context, fileID string, status store.EmbeddingStatus, reason string) error
	SetEmbeddingCompleted(ctx context.Context, fileID string, count int) error
	ReplaceEmbeddings(ctx context.Context, fileID string, recs []store.EmbeddingRecord) error
}

// Indexer drives a file through the embedding lifecycle:
// pending -> processing -> completed, failed, skipped, or disabled.
type Indexer struct {
	store    IndexStore
	provider embedder.Provider
	chunker  ChunkerConfig
	sem      chan struct{}
	logger   *slog.Logger
}

// NewIndexer creates a file indexer. The provider may be nil, in which case
// every file lands in the disabled state. maxConcurrent bounds how many
// files embed at once across all callers.
func NewIndexer(s IndexStore, provider embedder.Provider, chunker ChunkerConfig, maxConcurrent int) *Indexer {
	chunker.SetDefaults()
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Indexer{
		store:    s,
		provider: provider,
		chunker:  chunker,
		sem:      make(chan struct{}, maxConcurrent),
		logger:   slog.Default(),
	}
}

// Configured reports whether an embedding backend is available.
func (ix *Indexer) Configured() bool {
	return ix.provider != nil
}

// IndexFile embeds one file's content and replaces its stored embeddings.
// The returned status is the file's final lifecycle state. The error is
// non-nil only for record store failures; embedding failures are absorbed
// into the failed status with a classified reason.
func (ix *Indexer) IndexFile(ctx context.Context, file *store.File) (store.EmbeddingStatus, error) {
	select {
	case ix.sem <- struct{}{}:
		defer func() { <-ix.sem }()
	case <-ctx.Done():
		return store.StatusPending, ctx.Err()
	}

	if err := ix.store.SetEmbeddingStatus(ctx, file.ID, store.StatusProcessing, ""); err != nil {
		return store.StatusPending, fmt.Errorf("failed to mark file processing: %w", err)
	}

	if ix.provider == nil {
		if err := ix.store.SetEmbeddingStatus(ctx, file.ID, store.StatusDisabled, reasonNoBackend); err != nil {
			return store.StatusDisabled, err
		}
		return store.StatusDisabled, nil
	}

	// Tags alone are enough to embed: the embedding text carries them in
	// its header even when there is no extracted content.
	if strings.TrimSpace(file.TextContent) == "" && len(file.Tags) == 0 {
		if err := ix.store.SetEmbeddingStatus(ctx, file.ID, store.StatusSkipped, reasonNoContent); err != nil {
			return store.StatusSkipped, err
		}
		return store.StatusSkipped, nil
	}

	chunks, err := ChunkText(embeddingText(file), ix.chunker)
	if err != nil {
		return ix.fail(ctx, file.ID, err)
	}
	if len(chunks) == 0 {
		if err := ix.store.SetEmbeddingStatus(ctx, file.ID, store.StatusSkipped, reasonNoContent); err != nil {
			return store.StatusSkipped, err
		}
		return store.StatusSkipped, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return ix.fail(ctx, file.ID, err)
	}

	recs := make([]store.EmbeddingRecord, 0, len(chunks))
	for i, c := range chunks {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			continue
		}
		recs = append(recs, store.EmbeddingRecord{
			FileID:     file.ID,
			ChunkIndex: c.Index,
			ChunkText:  c.Text,
			Vector:     vectors[i],
		})
	}
	if len(recs) == 0 {
		return ix.fail(ctx, file.ID, fmt.Errorf("backend returned no embeddings"))
	}

	if err := ix.store.ReplaceEmbeddings(ctx, file.ID, recs); err != nil {
		if _, ferr := ix.fail(ctx, file.ID, err); ferr != nil {
			ix.logger.Error("failed to record embedding failure", "file_id", file.ID, "error", ferr)
		}
		return store.StatusFailed, fmt.Errorf("failed to store embeddings: %w", err)
	}
	if err := ix.store.SetEmbeddingCompleted(ctx, file.ID, len(recs)); err != nil {
		return store.StatusCompleted, fmt.Errorf("failed to mark file completed: %w", err)
	}

	ix.logger.Info("indexed file", "file_id", file.ID, "filename", file.Filename, "chunks", len(recs))
	return store.StatusCompleted, nil
}

func (ix *Indexer) fail(ctx context.Context, fileID string, cause error) (store.EmbeddingStatus, error) {
	reason := classifyEmbeddingError(cause)
	ix.logger.Warn("embedding failed", "file_id", fileID, "reason", reason, "error", cause)
	if err := ix.store.SetEmbeddingStatus(ctx, fileID, store.StatusFailed, reason); err != nil {
		return store.StatusFailed, err
	}
	return store.StatusFailed, nil
}

// embeddingText builds the text actually embedded for a file. Filename and
// tags ride along with the content so matches on either can surface the
// file.
func embeddingText(file *store.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", file.Filename)
	if len(file.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(file.Tags, ", "))
	}
	b.WriteString("\nContent:\n")
	b.WriteString(file.TextContent)
	return b.String()
}

// classifyEmbeddingError maps backend failures to the human-readable
// reasons stored on the file record.
func classifyEmbeddingError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "api key") ||
		strings.Contains(msg, "api_key") || strings.Contains(msg, "unauthorized"):
		return reasonAuthFailure
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate"):
		return reasonRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	default:
		return reasonUnexpected
	}
}
