// Package embedder converts text into dense vectors through an
// OpenAI-compatible embeddings API.
package embedder

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrNotConfigured is returned when no embedding backend is configured.
var ErrNotConfigured = errors.New("no embedding backend configured")

// maxInputChars caps the text sent per input. Longer texts are truncated
// silently.
const maxInputChars = 8000

// Provider is an embedding backend.
type Provider interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	// Blank inputs (after normalization) yield a nil vector at their
	// position rather than being dropped.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the backend model name.
	Model() string
}

// normalize prepares text for the embeddings API: newlines become spaces,
// surrounding whitespace is trimmed, and overlong inputs are truncated. The
// cap is measured in runes so truncation never leaves a partial character.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxInputChars {
		text = string([]rune(text)[:maxInputChars])
	}
	return text
}
