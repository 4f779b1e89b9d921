package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivahq/archiva/pkg/config"
)

// fakeBackend answers embedding requests with vectors derived from the
// input position. Responses are returned in reverse index order to verify
// reassembly.
func fakeBackend(t *testing.T, calls *[][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if calls != nil {
			*calls = append(*calls, req.Input)
		}

		resp := openAIEmbedResponse{Model: req.Model}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				Embedding: []float32{float32(i), float32(len(req.Input[i]))},
				Index:     i,
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testEmbedder(t *testing.T, host string, batchSize int) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(config.EmbedderConfig{
		APIKey:    "test-key",
		Host:      host,
		BatchSize: batchSize,
	})
	require.NoError(t, err)
	return e
}

func TestNewOpenAIEmbedderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbedderConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEmbedBatchPreservesBlankPositions(t *testing.T) {
	var calls [][]string
	srv := fakeBackend(t, &calls)
	defer srv.Close()
	e := testEmbedder(t, srv.URL, 100)

	vectors, err := e.EmbedBatch(context.Background(), []string{"first", "   ", "third"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.NotNil(t, vectors[0])
	assert.Nil(t, vectors[1])
	assert.NotNil(t, vectors[2])

	// Only the non-blank inputs reach the API.
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"first", "third"}, calls[0])
}

func TestEmbedBatchReassemblesOutOfOrderResults(t *testing.T) {
	srv := fakeBackend(t, nil)
	defer srv.Close()
	e := testEmbedder(t, srv.URL, 100)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	// The fake answers in reverse order; position i still gets index i.
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{1, 2}, vectors[1])
	assert.Equal(t, []float32{2, 3}, vectors[2])
}

func TestEmbedBatchSubBatches(t *testing.T) {
	var calls [][]string
	srv := fakeBackend(t, &calls)
	defer srv.Close()
	e := testEmbedder(t, srv.URL, 2)

	texts := []string{"one", "two", "three", "four", "five"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	for i, v := range vectors {
		assert.NotNil(t, v, "vector %d", i)
	}
	assert.Len(t, calls, 3)
}

func TestEmbedBatchAllBlank(t *testing.T) {
	srv := fakeBackend(t, nil)
	defer srv.Close()
	e := testEmbedder(t, srv.URL, 100)

	vectors, err := e.EmbedBatch(context.Background(), []string{"", "  \n "})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Nil(t, vectors[0])
	assert.Nil(t, vectors[1])
}

func TestEmbedBatchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()
	e := testEmbedder(t, srv.URL, 100)

	_, err := e.EmbedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", normalize("a\nb\nc"))
	assert.Equal(t, "trimmed", normalize("  trimmed \n"))
	assert.Equal(t, "", normalize(" \n\n "))

	long := strings.Repeat("x", maxInputChars+500)
	assert.Len(t, normalize(long), maxInputChars)
}

func TestNormalizeTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", maxInputChars+5)
	got := normalize(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxInputChars, utf8.RuneCountInString(got))
}

func TestEmbedSingle(t *testing.T) {
	srv := fakeBackend(t, nil)
	defer srv.Close()
	e := testEmbedder(t, srv.URL, 100)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}
