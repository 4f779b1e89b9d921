package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivahq/archiva/pkg/store"
)

// fakeStore serves canned keyword hits, files, and embeddings, and records
// the visibility scope each method saw.
type fakeStore struct {
	hits       []store.KeywordHit
	files      map[string]*store.File
	embeddings []store.EmbeddingRecord
	keywordErr error
	listingErr error

	keywordScope store.VisibilityScope
	listScope    store.VisibilityScope
	filesScope   store.VisibilityScope
}

func (f *fakeStore) SearchKeyword(ctx context.Context, callerID, query string, scope store.VisibilityScope) ([]store.KeywordHit, error) {
	f.keywordScope = scope
	return f.hits, f.keywordErr
}

func (f *fakeStore) FileIDsInScope(ctx context.Context, callerID string, scope store.VisibilityScope) ([]string, error) {
	f.listScope = scope
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	ids := make([]string, 0, len(f.files))
	for id := range f.files {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) FilesInScope(ctx context.Context, callerID string, ids []string, scope store.VisibilityScope) ([]*store.File, error) {
	f.filesScope = scope
	var out []*store.File
	for _, id := range ids {
		if file, ok := f.files[id]; ok {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeStore) EmbeddingsForFiles(ctx context.Context, fileIDs []string) ([]store.EmbeddingRecord, error) {
	return f.embeddings, nil
}

// fakeProvider returns a fixed query vector.
type fakeProvider struct {
	vector []float32
	err    error
}

func (p *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.vector, p.err
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vector
	}
	return out, p.err
}

func (p *fakeProvider) Model() string { return "fake" }

func file(id string) *store.File {
	return &store.File{ID: id, Filename: id + ".txt", ContentType: "text/plain"}
}

func rec(fileID string, vec []float32) store.EmbeddingRecord {
	return store.EmbeddingRecord{FileID: fileID, ChunkIndex: 0, ChunkText: "chunk", Vector: vec}
}

func TestSearchKeywordOnly(t *testing.T) {
	s := &fakeStore{
		hits: []store.KeywordHit{
			{FileID: "f1", Relevance: 8},
			{FileID: "f2", Relevance: 4},
			{FileID: "weak", Relevance: 1.5},
		},
		files: map[string]*store.File{"f1": file("f1"), "f2": file("f2"), "weak": file("weak")},
	}
	e := NewEngine(s, nil, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "report"})
	require.NoError(t, err)

	// The hit below the relevance floor is cut entirely.
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "f1", resp.Results[0].File.ID)

	// relevance 8 -> 0.8 normalized -> 0.96 boosted.
	assert.InDelta(t, 0.96, resp.Results[0].Info.Score, 0.001)
	assert.Equal(t, []string{"keyword"}, resp.Results[0].Info.MatchTypes)
	require.NotNil(t, resp.Results[0].Info.KeywordRank)
	assert.Equal(t, 1, *resp.Results[0].Info.KeywordRank)
	assert.Nil(t, resp.Results[0].Info.SemanticSimilarity)

	// The raw lexical relevance survives normalization.
	require.NotNil(t, resp.Results[0].Info.KeywordScore)
	assert.InDelta(t, 8.0, *resp.Results[0].Info.KeywordScore, 0.001)
}

func TestSearchKeywordScoreCap(t *testing.T) {
	s := &fakeStore{
		hits:  []store.KeywordHit{{FileID: "f1", Relevance: 25}},
		files: map[string]*store.File{"f1": file("f1")},
	}
	e := NewEngine(s, nil, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// Normalized score caps at 1.0 before the boost.
	assert.InDelta(t, 1.2, resp.Results[0].Info.Score, 0.001)
}

func TestSearchSemanticOnly(t *testing.T) {
	s := &fakeStore{
		files:      map[string]*store.File{"f1": file("f1"), "far": file("far")},
		embeddings: []store.EmbeddingRecord{
			rec("f1", []float32{1, 0.1}),
			rec("far", []float32{0.1, 1}),
		},
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)

	// Only the chunk above the 0.5 similarity floor survives.
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "f1", resp.Results[0].File.ID)
	assert.Equal(t, []string{"semantic"}, resp.Results[0].Info.MatchTypes)
	require.NotNil(t, resp.Results[0].Info.SemanticSimilarity)
	assert.Nil(t, resp.Results[0].Info.KeywordRank)
}

func TestSearchDualMatchFusion(t *testing.T) {
	s := &fakeStore{
		hits:       []store.KeywordHit{{FileID: "f1", Relevance: 6}},
		files:      map[string]*store.File{"f1": file("f1")},
		embeddings: []store.EmbeddingRecord{rec("f1", []float32{1, 0})},
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	info := resp.Results[0].Info
	assert.ElementsMatch(t, []string{"keyword", "semantic"}, info.MatchTypes)

	// keyword 0.6*1.2 = 0.72, semantic 1.0; max(0.72, 1.0) * 1.3 = 1.3.
	assert.InDelta(t, 1.3, info.Score, 0.001)
	require.NotNil(t, info.KeywordRank)
	require.NotNil(t, info.SemanticSimilarity)
}

func TestSearchBestChunkPerFile(t *testing.T) {
	s := &fakeStore{
		files: map[string]*store.File{"f1": file("f1")},
		embeddings: []store.EmbeddingRecord{
			rec("f1", []float32{1, 0.5}),
			rec("f1", []float32{1, 0.05}),
		},
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// The stronger of the two chunks sets the file's similarity.
	assert.Greater(t, *resp.Results[0].Info.SemanticSimilarity, 0.99)
}

func TestSearchKeywordRankSkipsFloorCuts(t *testing.T) {
	s := &fakeStore{
		hits: []store.KeywordHit{
			{FileID: "f1", Relevance: 9},
			{FileID: "cut", Relevance: 0.5},
			{FileID: "f2", Relevance: 5},
		},
		files: map[string]*store.File{"f1": file("f1"), "cut": file("cut"), "f2": file("f2")},
	}
	e := NewEngine(s, nil, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, *resp.Results[1].Info.KeywordRank)
}

func TestSearchScopeReachesStore(t *testing.T) {
	s := &fakeStore{
		hits:       []store.KeywordHit{{FileID: "f1", Relevance: 5}},
		files:      map[string]*store.File{"f1": file("f1")},
		embeddings: []store.EmbeddingRecord{rec("f1", []float32{1, 0})},
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	_, err := e.Search(context.Background(), "u1", Request{Query: "q", Scope: store.ScopePrivate})
	require.NoError(t, err)

	// Both arms and the final file fetch query with the requested scope.
	assert.Equal(t, store.ScopePrivate, s.keywordScope)
	assert.Equal(t, store.ScopePrivate, s.listScope)
	assert.Equal(t, store.ScopePrivate, s.filesScope)
}

func TestSearchTypeFilter(t *testing.T) {
	pdf := file("pdf")
	pdf.ContentType = "application/pdf"
	s := &fakeStore{
		files:      map[string]*store.File{"pdf": pdf, "txt": file("txt")},
		embeddings: []store.EmbeddingRecord{
			rec("pdf", []float32{1, 0}),
			rec("txt", []float32{1, 0}),
		},
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q", TypeFilter: "application/pdf"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pdf", resp.Results[0].File.ID)
}

func TestSearchPagination(t *testing.T) {
	s := &fakeStore{files: map[string]*store.File{}}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.hits = append(s.hits, store.KeywordHit{FileID: id, Relevance: 5})
		s.files[id] = file(id)
	}
	e := NewEngine(s, nil, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 3, resp.Pages)
	assert.Equal(t, 2, resp.Page)

	resp, err = e.Search(context.Background(), "u1", Request{Query: "q", Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	resp, err = e.Search(context.Background(), "u1", Request{Query: "q", Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchKeywordArmFailureDegrades(t *testing.T) {
	s := &fakeStore{
		keywordErr: errors.New("fts offline"),
		files:      map[string]*store.File{"f1": file("f1")},
		embeddings: []store.EmbeddingRecord{rec("f1", []float32{1, 0})},
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"semantic"}, resp.Results[0].Info.MatchTypes)
}

func TestSearchSemanticArmFailureDegrades(t *testing.T) {
	s := &fakeStore{
		hits:       []store.KeywordHit{{FileID: "f1", Relevance: 5}},
		files:      map[string]*store.File{"f1": file("f1")},
		listingErr: errors.New("database locked"),
	}
	e := NewEngine(s, &fakeProvider{vector: []float32{1, 0}}, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"keyword"}, resp.Results[0].Info.MatchTypes)
}

func TestSearchNoMatches(t *testing.T) {
	e := NewEngine(&fakeStore{files: map[string]*store.File{}}, nil, Config{})

	resp, err := e.Search(context.Background(), "u1", Request{Query: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}
