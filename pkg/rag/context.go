package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/archivahq/archiva/pkg/embedder"
	"github.com/archivahq/archiva/pkg/store"
)

const (
	// rankedChunkLimit is how many chunks survive the similarity ranking.
	rankedChunkLimit = 8

	// keptChunkLimit is how many chunks make it into the context block
	// after the priority boost re-sort.
	keptChunkLimit = 5

	// passagePreviewChars caps source passage previews.
	passagePreviewChars = 300

	contextPreamble = "The following excerpts from the archive may be relevant to the question. " +
		"When citing information from them, reference the source file name.\n\n"
)

// Source identifies one file that contributed to an assembled context.
type Source struct {
	FileID    string  `json:"file_id"`
	Filename  string  `json:"filename"`
	FileType  string  `json:"file_type"`
	Relevance float64 `json:"relevance"`
	Passage   string  `json:"passage"`
}

// Result is an assembled retrieval context.
type Result struct {
	// ContextBlock is the formatted text handed to the language model.
	// Empty when nothing relevant was found or retrieval degraded.
	ContextBlock string

	Sources []Source

	// TokenEstimate approximates the context block's token count.
	TokenEstimate int
}

// ContextStore is the slice of the record store the assembler needs.
type ContextStore interface {
	AccessibleFileIDs(ctx context.Context, callerID string) ([]string, error)
	FilesByIDs(ctx context.Context, callerID string, ids []string) ([]*store.File, error)
	EmbeddingsForFiles(ctx context.Context, fileIDs []string) ([]store.EmbeddingRecord, error)
}

// AssemblerConfig holds the assembler's ranking tunables.
type AssemblerConfig struct {
	// SimilarityFloor is the minimum similarity for a chunk to be
	// considered. Default: 0.3
	SimilarityFloor float64

	// PriorityBoost is added to similarities of chunks from priority
	// files. The boosted value is capped at 1.0. Default: 0.15
	PriorityBoost float64
}

// SetDefaults applies default values to unset fields.
func (c *AssemblerConfig) SetDefaults() {
	if c.SimilarityFloor == 0 {
		c.SimilarityFloor = 0.3
	}
	if c.PriorityBoost == 0 {
		c.PriorityBoost = 0.15
	}
}

// Assembler retrieves relevant chunks and formats them into a context block.
type Assembler struct {
	store    ContextStore
	provider embedder.Provider
	config   AssemblerConfig
	logger   *slog.Logger
}

// NewAssembler creates a context assembler. The provider may be nil, in
// which case every retrieval degrades to an empty result.
func NewAssembler(s ContextStore, provider embedder.Provider, cfg AssemblerConfig) *Assembler {
	cfg.SetDefaults()
	return &Assembler{
		store:    s,
		provider: provider,
		config:   cfg,
		logger:   slog.Default(),
	}
}

// Retrieve assembles a context from all files visible to the caller.
// Chunks from priority files get their similarity boosted before the final
// cut, so just-uploaded files surface even against stronger matches.
// Retrieval failures degrade to an empty result, never an error: a chat
// without context beats no chat at all.
func (a *Assembler) Retrieve(ctx context.Context, callerID, query string, priorityFileIDs []string) *Result {
	fileIDs, err := a.store.AccessibleFileIDs(ctx, callerID)
	if err != nil {
		a.logger.Warn("context retrieval degraded", "reason", "file listing failed", "error", err)
		return &Result{}
	}
	return a.retrieve(ctx, callerID, query, fileIDs, priorityFileIDs)
}

// RetrieveForFiles assembles a context from an explicit file set, such as a
// project's files. Files the caller cannot see are ignored.
func (a *Assembler) RetrieveForFiles(ctx context.Context, callerID, query string, fileIDs []string) *Result {
	return a.retrieve(ctx, callerID, query, fileIDs, nil)
}

func (a *Assembler) retrieve(ctx context.Context, callerID, query string, fileIDs, priorityFileIDs []string) *Result {
	if a.provider == nil || len(fileIDs) == 0 {
		return &Result{}
	}

	queryVec, err := a.provider.Embed(ctx, query)
	if err != nil || len(queryVec) == 0 {
		a.logger.Warn("context retrieval degraded", "reason", "query embedding failed", "error", err)
		return &Result{}
	}

	files, err := a.store.FilesByIDs(ctx, callerID, fileIDs)
	if err != nil {
		a.logger.Warn("context retrieval degraded", "reason", "file lookup failed", "error", err)
		return &Result{}
	}
	byID := make(map[string]*store.File, len(files))
	visible := make([]string, 0, len(files))
	for _, f := range files {
		byID[f.ID] = f
		visible = append(visible, f.ID)
	}
	if len(visible) == 0 {
		return &Result{}
	}

	chunks, err := a.store.EmbeddingsForFiles(ctx, visible)
	if err != nil {
		a.logger.Warn("context retrieval degraded", "reason", "embedding fetch failed", "error", err)
		return &Result{}
	}

	ranked := RankChunks(queryVec, chunks, a.config.SimilarityFloor, rankedChunkLimit)
	if len(ranked) == 0 {
		return &Result{}
	}

	if len(priorityFileIDs) > 0 {
		priority := make(map[string]bool, len(priorityFileIDs))
		for _, id := range priorityFileIDs {
			priority[id] = true
		}
		for i := range ranked {
			if priority[ranked[i].FileID] {
				ranked[i].Similarity += a.config.PriorityBoost
				if ranked[i].Similarity > 1.0 {
					ranked[i].Similarity = 1.0
				}
			}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Similarity > ranked[j].Similarity
		})
	}

	if len(ranked) > keptChunkLimit {
		ranked = ranked[:keptChunkLimit]
	}

	return a.assemble(ranked, byID)
}

// assemble formats ranked chunks into the context block and source list.
// The per-file header appears once, before the first chunk of each file.
func (a *Assembler) assemble(ranked []ScoredChunk, files map[string]*store.File) *Result {
	var block strings.Builder
	block.WriteString(contextPreamble)

	seen := make(map[string]bool)
	var sources []Source
	for _, chunk := range ranked {
		var filename, fileType string
		if f := files[chunk.FileID]; f != nil {
			filename = f.Filename
			fileType = f.ContentType
		}
		if !seen[chunk.FileID] {
			seen[chunk.FileID] = true
			fmt.Fprintf(&block, "--- From: %s (relevance: %.2f) ---\n", filename, chunk.Similarity)

			passage := chunk.ChunkText
			if runes := []rune(passage); len(runes) > passagePreviewChars {
				passage = string(runes[:passagePreviewChars])
			}
			sources = append(sources, Source{
				FileID:    chunk.FileID,
				Filename:  filename,
				FileType:  fileType,
				Relevance: roundTo(chunk.Similarity, 2),
				Passage:   passage,
			})
		}
		block.WriteString(chunk.ChunkText)
		block.WriteString("\n\n")
	}

	text := block.String()
	return &Result{
		ContextBlock:  text,
		Sources:       sources,
		TokenEstimate: estimateTokens(text),
	}
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int(v*shift+0.5)) / shift
}

// estimateTokens counts tokens with the cl100k_base encoding, falling back
// to a 4-chars-per-token heuristic if the encoding is unavailable.
func estimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
