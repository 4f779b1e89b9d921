package rag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivahq/archiva/pkg/store"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 2, 3}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-9)

	// Zero-magnitude and mismatched vectors score zero instead of NaN.
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))

	assert.False(t, math.IsNaN(CosineSimilarity([]float32{0}, []float32{0})))
}

func chunkWithVector(fileID string, idx int, vec []float32) store.EmbeddingRecord {
	return store.EmbeddingRecord{FileID: fileID, ChunkIndex: idx, ChunkText: "chunk", Vector: vec}
}

func TestRankChunksThresholdAndOrder(t *testing.T) {
	query := []float32{1, 0}
	chunks := []store.EmbeddingRecord{
		chunkWithVector("low", 0, []float32{0.1, 1}),   // ~0.0995
		chunkWithVector("high", 0, []float32{1, 0.1}),  // ~0.995
		chunkWithVector("mid", 0, []float32{1, 1}),     // ~0.707
		chunkWithVector("skip", 0, []float32{1, 0, 0}), // dimension mismatch
	}

	ranked := RankChunks(query, chunks, 0.3, 10)
	require.Len(t, ranked, 2)
	assert.Equal(t, "high", ranked[0].FileID)
	assert.Equal(t, "mid", ranked[1].FileID)
}

func TestRankChunksLimit(t *testing.T) {
	query := []float32{1, 0}
	var chunks []store.EmbeddingRecord
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunkWithVector("f", i, []float32{1, float32(i) * 0.01}))
	}

	ranked := RankChunks(query, chunks, 0.0, 3)
	assert.Len(t, ranked, 3)
}

func TestRankChunksStableForTies(t *testing.T) {
	query := []float32{1, 0}
	chunks := []store.EmbeddingRecord{
		chunkWithVector("first", 0, []float32{2, 0}),
		chunkWithVector("second", 0, []float32{3, 0}),
	}

	ranked := RankChunks(query, chunks, 0.0, 10)
	require.Len(t, ranked, 2)
	assert.Equal(t, "first", ranked[0].FileID)
	assert.Equal(t, "second", ranked[1].FileID)
}

func TestRankChunksEmptyQuery(t *testing.T) {
	chunks := []store.EmbeddingRecord{chunkWithVector("f", 0, []float32{1})}
	assert.Nil(t, RankChunks(nil, chunks, 0.3, 10))
}

func TestRankChunksExcludesFloor(t *testing.T) {
	// A chunk exactly at the floor is dropped; only strictly better
	// matches survive.
	query := []float32{1, 0}
	chunks := []store.EmbeddingRecord{chunkWithVector("f", 0, []float32{1, 0})}

	assert.Empty(t, RankChunks(query, chunks, 1.0, 10))
	assert.Len(t, RankChunks(query, chunks, 0.99, 10), 1)
}
