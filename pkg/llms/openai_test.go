package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivahq/archiva/pkg/config"
)

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(config.LLMConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCompleteReturnsAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NotEmpty(t, req.Messages)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "the answer"}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(config.LLMConfig{APIKey: "test-key", Host: srv.URL})
	require.NoError(t, err)

	answer, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(config.LLMConfig{APIKey: "test-key", Host: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []Message{{Role: "user", Content: "q"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limit reached")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(config.LLMConfig{APIKey: "test-key", Host: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []Message{{Role: "user", Content: "q"}})
	assert.Error(t, err)
}

func TestCompleteNoMessages(t *testing.T) {
	c, err := NewOpenAIClient(config.LLMConfig{APIKey: "test-key"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), nil)
	assert.Error(t, err)
}
