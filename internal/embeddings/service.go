// Package embeddings provides embedding generation via langchaingo.
//
// The service talks to any OpenAI-compatible embedding endpoint (OpenAI
// itself, TEI, or a local server) and guarantees unit-L2-norm output so
// cosine similarity between query and document vectors is meaningful.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Sentinel errors.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRemote indicates a remote embedding call failure. Callers may retry
	// or abort ingestion.
	ErrRemote = errors.New("embedding request failed")
)

// Client generates vector embeddings for documents and queries.
type Client interface {
	// EmbedDocuments embeds a batch of texts, order-preserving, one
	// unit-norm vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query with the same normalization as
	// EmbedDocuments.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the model's output vector length.
	Dimension() int
}

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey authenticates the request. Optional for local endpoints.
	APIKey string

	// Dimension is the model's output vector length. Must match the vector
	// index's configured dimension.
	Dimension int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings through langchaingo's OpenAI-compatible client.
type Service struct {
	embedder *lcembeddings.EmbedderImpl
	config   Config
}

// NewService creates a new embedding service with the given configuration.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token; local endpoints ignore it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithEmbeddingModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{
		embedder: embedder,
		config:   config,
	}, nil
}

// EmbedDocuments generates one unit-norm vector per input text, in order.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrRemote, len(vectors), len(texts))
	}

	for i := range vectors {
		Normalize(vectors[i])
	}
	return vectors, nil
}

// EmbedQuery generates a unit-norm vector for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}

	Normalize(vector)
	return vector, nil
}

// Dimension reports the configured model output dimension.
func (s *Service) Dimension() int {
	return s.config.Dimension
}

// Normalize scales v in place to unit L2 norm. Zero vectors are left as-is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

var _ Client = (*Service)(nil)
