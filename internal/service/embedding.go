package service

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/embedr/internal/config"
)

const (
	defaultEmbeddingEndpoint = "https://api.jina.ai/v1/embeddings"

	// maxEmbeddingInput bounds the document text sent for embedding; long descriptions are cut.
	maxEmbeddingInput = 8192
)

// EmbeddingService turns search document text into vectors for the Qdrant index.
type EmbeddingService struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

// NewEmbeddingService creates a client for the Jina embeddings API.
// Rate limiting and server errors are retried a few times before the call fails.
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultEmbeddingEndpoint
	}

	client := resty.New().
		SetTimeout(30*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		})

	return &EmbeddingService{
		client:     client,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

type embeddingRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// Embed returns the passage embedding of one search document.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxEmbeddingInput {
		text = truncateUTF8(text, maxEmbeddingInput)
	}

	var resp embeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(embeddingRequest{
			Model:         s.model,
			Task:          "retrieval.passage",
			Dimensions:    s.dimensions,
			Input:         []string{text},
			EmbeddingType: "float",
		}).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call embeddings API: %w", err)
	}

	if httpResp.IsError() {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embeddings API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embeddings API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected 1", len(resp.Data))
	}
	vector := resp.Data[0].Embedding
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), s.dimensions)
	}
	return vector, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
