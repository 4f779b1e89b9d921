// Package search implements hybrid search: a lexical arm over the full-text
// index fused with a semantic arm over chunk embeddings.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archivahq/archiva/pkg/embedder"
	"github.com/archivahq/archiva/pkg/observability"
	"github.com/archivahq/archiva/pkg/rag"
	"github.com/archivahq/archiva/pkg/store"
)

// semanticCandidateLimit is how many chunks the semantic arm ranks.
const semanticCandidateLimit = 20

// Store is the slice of the record store the engine needs.
type Store interface {
	SearchKeyword(ctx context.Context, callerID, query string, scope store.VisibilityScope) ([]store.KeywordHit, error)
	FileIDsInScope(ctx context.Context, callerID string, scope store.VisibilityScope) ([]string, error)
	FilesInScope(ctx context.Context, callerID string, ids []string, scope store.VisibilityScope) ([]*store.File, error)
	EmbeddingsForFiles(ctx context.Context, fileIDs []string) ([]store.EmbeddingRecord, error)
}

// Config holds the engine's ranking tunables.
type Config struct {
	// KeywordFloor is the minimum lexical relevance kept. Default: 2.0
	KeywordFloor float64

	// KeywordBoost multiplies normalized keyword scores. Default: 1.2
	KeywordBoost float64

	// SemanticFloor is the minimum per-file similarity kept. Default: 0.5
	SemanticFloor float64

	// DualMatchBoost multiplies the fused score of files matched by both
	// arms. Default: 1.3
	DualMatchBoost float64
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.KeywordFloor == 0 {
		c.KeywordFloor = 2.0
	}
	if c.KeywordBoost == 0 {
		c.KeywordBoost = 1.2
	}
	if c.SemanticFloor == 0 {
		c.SemanticFloor = 0.5
	}
	if c.DualMatchBoost == 0 {
		c.DualMatchBoost = 1.3
	}
}

// Request is one search call.
type Request struct {
	Query string

	// Scope narrows the search to all visible files, only public files,
	// or only the caller's private files. Empty means all.
	Scope store.VisibilityScope

	// TypeFilter restricts results to files whose content type starts
	// with the given prefix, such as "application/pdf" or "text". Empty
	// means no restriction.
	TypeFilter string

	// Page is 1-based. Values below 1 are treated as 1.
	Page int

	// PageSize defaults to 20.
	PageSize int
}

// Info explains why a result matched and how it was scored.
type Info struct {
	// Score is the fused ranking score, rounded to 3 decimals.
	Score float64 `json:"score"`

	// MatchTypes lists the arms that matched: keyword, semantic.
	MatchTypes []string `json:"match_types"`

	// SemanticSimilarity is the best chunk similarity, present only for
	// semantic matches.
	SemanticSimilarity *float64 `json:"semantic_similarity,omitempty"`

	// KeywordRank is the 1-based lexical rank, present only for keyword
	// matches.
	KeywordRank *int `json:"keyword_rank,omitempty"`

	// KeywordScore is the raw lexical relevance before normalization,
	// present only for keyword matches.
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// Result is one scored file.
type Result struct {
	File *store.File `json:"file"`
	Info Info        `json:"_search_info"`
}

// Response is a page of results.
type Response struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Pages    int      `json:"pages"`
}

// Engine fuses lexical and semantic search over the archive.
type Engine struct {
	store    Store
	provider embedder.Provider
	config   Config
	logger   *slog.Logger
}

// NewEngine creates a search engine. The provider may be nil, in which case
// the semantic arm always comes up empty and search is purely lexical.
func NewEngine(s Store, provider embedder.Provider, cfg Config) *Engine {
	cfg.SetDefaults()
	return &Engine{
		store:    s,
		provider: provider,
		config:   cfg,
		logger:   slog.Default(),
	}
}

// keywordMatch is one lexical arm hit after normalization. raw keeps the
// pre-normalization relevance for result explanations.
type keywordMatch struct {
	score float64
	raw   float64
	rank  int
}

// Search runs both arms concurrently and fuses their results. A failure in
// one arm degrades that arm to empty rather than failing the search.
func (e *Engine) Search(ctx context.Context, callerID string, req Request) (*Response, error) {
	start := time.Now()
	defer func() {
		observability.SearchesTotal.WithLabelValues("smart").Inc()
		observability.SearchDuration.WithLabelValues("smart").Observe(time.Since(start).Seconds())
	}()

	var (
		keyword  map[string]keywordMatch
		semantic map[string]float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keyword = e.keywordArm(gctx, callerID, req.Query, req.Scope)
		return nil
	})
	g.Go(func() error {
		semantic = e.semanticArm(gctx, callerID, req.Query, req.Scope)
		return nil
	})
	g.Wait()

	return e.fuse(ctx, callerID, req, keyword, semantic)
}

// keywordArm runs the lexical query, drops hits below the relevance floor,
// and normalizes surviving scores into [0, KeywordBoost].
func (e *Engine) keywordArm(ctx context.Context, callerID, query string, scope store.VisibilityScope) map[string]keywordMatch {
	hits, err := e.store.SearchKeyword(ctx, callerID, query, scope)
	if err != nil {
		e.logger.Warn("keyword arm degraded", "error", err)
		return nil
	}

	matches := make(map[string]keywordMatch)
	rank := 0
	for _, hit := range hits {
		if hit.Relevance < e.config.KeywordFloor {
			continue
		}
		rank++
		normalized := hit.Relevance / 10
		if normalized > 1.0 {
			normalized = 1.0
		}
		matches[hit.FileID] = keywordMatch{
			score: normalized * e.config.KeywordBoost,
			raw:   hit.Relevance,
			rank:  rank,
		}
	}
	return matches
}

// semanticArm embeds the query, ranks chunks of the in-scope files, and keeps
// the best chunk similarity per file above the semantic floor.
func (e *Engine) semanticArm(ctx context.Context, callerID, query string, scope store.VisibilityScope) map[string]float64 {
	if e.provider == nil {
		return nil
	}

	queryVec, err := e.provider.Embed(ctx, query)
	if err != nil || len(queryVec) == 0 {
		e.logger.Warn("semantic arm degraded", "reason", "query embedding failed", "error", err)
		return nil
	}

	fileIDs, err := e.store.FileIDsInScope(ctx, callerID, scope)
	if err != nil {
		e.logger.Warn("semantic arm degraded", "reason", "file listing failed", "error", err)
		return nil
	}
	if len(fileIDs) == 0 {
		return nil
	}

	chunks, err := e.store.EmbeddingsForFiles(ctx, fileIDs)
	if err != nil {
		e.logger.Warn("semantic arm degraded", "reason", "embedding fetch failed", "error", err)
		return nil
	}

	ranked := rag.RankChunks(queryVec, chunks, e.config.SemanticFloor, semanticCandidateLimit)
	best := make(map[string]float64)
	for _, chunk := range ranked {
		if chunk.Similarity > best[chunk.FileID] {
			best[chunk.FileID] = chunk.Similarity
		}
	}
	return best
}

// fuse merges the two arms, loads file records, applies the type filter,
// sorts by fused score, and paginates.
func (e *Engine) fuse(ctx context.Context, callerID string, req Request, keyword map[string]keywordMatch, semantic map[string]float64) (*Response, error) {
	ids := make([]string, 0, len(keyword)+len(semantic))
	for id := range keyword {
		ids = append(ids, id)
	}
	for id := range semantic {
		if _, dup := keyword[id]; !dup {
			ids = append(ids, id)
		}
	}

	page, pageSize := normalizePage(req.Page, req.PageSize)
	if len(ids) == 0 {
		return &Response{Results: []Result{}, Page: page, PageSize: pageSize}, nil
	}

	// FilesInScope re-checks visibility, which covers hits the semantic
	// arm produced from since-restricted files.
	files, err := e.store.FilesInScope(ctx, callerID, ids, req.Scope)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(files))
	for _, f := range files {
		if req.TypeFilter != "" && !strings.HasPrefix(f.ContentType, req.TypeFilter) {
			continue
		}

		km, hasKeyword := keyword[f.ID]
		sim, hasSemantic := semantic[f.ID]

		info := Info{}
		switch {
		case hasKeyword && hasSemantic:
			score := km.score
			if sim > score {
				score = sim
			}
			info.Score = score * e.config.DualMatchBoost
			info.MatchTypes = []string{"keyword", "semantic"}
		case hasKeyword:
			info.Score = km.score
			info.MatchTypes = []string{"keyword"}
		case hasSemantic:
			info.Score = sim
			info.MatchTypes = []string{"semantic"}
		default:
			continue
		}

		if hasKeyword {
			rank := km.rank
			info.KeywordRank = &rank
			raw := roundTo(km.raw, 3)
			info.KeywordScore = &raw
		}
		if hasSemantic {
			s := roundTo(sim, 3)
			info.SemanticSimilarity = &s
		}
		info.Score = roundTo(info.Score, 3)

		results = append(results, Result{File: f, Info: info})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Info.Score > results[j].Info.Score
	})

	total := len(results)
	pages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &Response{
		Results:  results[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
	}, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int(v*shift+0.5)) / shift
}
