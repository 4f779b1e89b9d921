// Package rag implements the retrieval pipeline: chunking, similarity
// ranking, context assembly, and file indexing.
package rag

import (
	"fmt"
	"strings"
)

// ChunkerConfig controls how text is split for embedding.
type ChunkerConfig struct {
	// Size is the chunk length in characters. Default: 1000
	Size int

	// Overlap is how many characters consecutive chunks share. Default: 200
	Overlap int
}

// SetDefaults applies default values to unset fields.
func (c *ChunkerConfig) SetDefaults() {
	if c.Size == 0 {
		c.Size = 1000
	}
	if c.Overlap == 0 {
		c.Overlap = 200
	}
}

// Validate checks the configuration. An overlap at or above the chunk size
// would make the window walk backwards or stall.
func (c *ChunkerConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("chunk overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("chunk overlap (%d) must be less than chunk size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// Chunk is one piece of split text.
type Chunk struct {
	// Index is the chunk's position in the original text, counted over
	// kept chunks.
	Index int

	Text string
}

// ChunkText splits text into overlapping character windows. Windows are
// measured in runes, so multibyte text never splits mid-character. Each chunk
// is trimmed of surrounding whitespace; chunks that trim to nothing are
// dropped. Splitting the same text with the same config is deterministic.
func ChunkText(text string, cfg ChunkerConfig) ([]Chunk, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := cfg.Size - cfg.Overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: piece})
		}
	}
	return chunks, nil
}
