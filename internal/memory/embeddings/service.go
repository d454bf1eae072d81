// Package embeddings adapts an OpenAI-compatible embedding API for the
// memory subsystem.
package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Config selects the embedding model and endpoint.
type Config struct {
	Model      string
	Dimensions int
	BaseURL    string // optional custom base URL
	APIKey     string
}

// Service is a stateless text-to-vector adapter. The configured model must
// produce vectors of exactly the configured dimension; mismatched responses
// are rejected so stale vectors never reach a dimension-suffixed table.
type Service struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewService returns a service for cfg.
func NewService(cfg Config) (*Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embeddings: model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embeddings: dimensions must be positive")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Service{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Dimensions returns the configured vector width.
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Embed returns the vector for one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embeddings: no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, order preserved. An empty input
// returns an empty result without network I/O.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	results := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(results) {
			return nil, fmt.Errorf("embeddings: response index %d out of range", data.Index)
		}
		if len(data.Embedding) != s.dimensions {
			return nil, fmt.Errorf("embeddings: model returned %d dimensions, want %d", len(data.Embedding), s.dimensions)
		}
		results[data.Index] = data.Embedding
	}
	return results, nil
}
