package rag

import (
	"math"
	"sort"

	"github.com/archivahq/archiva/pkg/store"
)

// ScoredChunk is a chunk embedding paired with its similarity to a query.
type ScoredChunk struct {
	store.EmbeddingRecord
	Similarity float64
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 when either vector has zero magnitude or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankChunks scores each chunk against the query vector, keeps those
// strictly above the threshold, sorts by similarity descending, and truncates
// to limit. Chunks whose vectors do not match the query dimension are
// skipped. The sort is stable, so equally scored chunks keep their input
// order.
func RankChunks(query []float32, chunks []store.EmbeddingRecord, threshold float64, limit int) []ScoredChunk {
	if len(query) == 0 {
		return nil
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Vector) != len(query) {
			continue
		}
		sim := CosineSimilarity(query, chunk.Vector)
		if sim <= threshold {
			continue
		}
		scored = append(scored, ScoredChunk{EmbeddingRecord: chunk, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
