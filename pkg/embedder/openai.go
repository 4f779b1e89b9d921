package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/archivahq/archiva/pkg/config"
)

// OpenAIEmbedder implements Provider against an OpenAI-compatible
// embeddings API.
type OpenAIEmbedder struct {
	client     *http.Client
	apiKey     string
	baseURL    string
	model      string
	batchSize  int
	maxRetries int
}

// openAIEmbedRequest is the request payload for the embeddings endpoint.
type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openAIEmbedResponse is the response from the embeddings endpoint.
type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// openAIErrorResponse is an error response from the API.
type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIEmbedder creates an embedder from configuration.
// Returns ErrNotConfigured when no API key is set.
func NewOpenAIEmbedder(cfg config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &OpenAIEmbedder{
		client:     &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}, nil
}

// Embed returns the vector for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, fmt.Errorf("received empty embedding")
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Blank
// inputs keep their position with a nil vector and are never sent to the
// API.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Normalize everything up front, remembering where the non-blank
	// inputs live so results land back at the right positions.
	results := make([][]float32, len(texts))
	var payload []string
	var positions []int
	for i, text := range texts {
		cleaned := normalize(text)
		if cleaned == "" {
			continue
		}
		payload = append(payload, cleaned)
		positions = append(positions, i)
	}
	if len(payload) == 0 {
		return results, nil
	}

	for i := 0; i < len(payload); i += e.batchSize {
		end := i + e.batchSize
		if end > len(payload) {
			end = len(payload)
		}

		embeddings, err := e.embedOnce(ctx, payload[i:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range embeddings {
			results[positions[i+j]] = vec
		}
	}

	return results, nil
}

// embedOnce sends one API call and returns embeddings in input order.
func (e *OpenAIEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody, err := json.Marshal(openAIEmbedRequest{
		Model: e.model,
		Input: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err = e.client.Do(httpReq)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}
		if err == nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			// Client errors other than rate limits will not improve on retry.
			break
		}

		if attempt < e.maxRetries-1 {
			if resp != nil {
				resp.Body.Close()
				resp = nil
			}
			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("failed to send request: no response")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp openAIErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("embeddings API error (status %d): %s", resp.StatusCode, errorResp.Error.Message)
		}
		return nil, fmt.Errorf("embeddings API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response openAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Data) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(response.Data))
	}

	// Place embeddings by index to match input order.
	embeddings := make([][]float32, len(batch))
	for _, item := range response.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	return embeddings, nil
}

// Model returns the backend model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

var _ Provider = (*OpenAIEmbedder)(nil)
