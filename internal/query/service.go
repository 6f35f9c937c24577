// Package query answers questions over the indexed document using one of
// three retrieval strategies.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/raglab/ragd/internal/embeddings"
	"github.com/raglab/ragd/internal/genai"
	"github.com/raglab/ragd/internal/ingest"
	"github.com/raglab/ragd/internal/logging"
	"github.com/raglab/ragd/internal/vectorstore"
)

var tracer = otel.Tracer("ragd.query")

// Sentinel errors.
var (
	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrUnknownStrategy indicates an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown retrieval strategy")
)

// FallbackNoContext is the canned answer returned when retrieval yields
// nothing. The generative model is not called in that case.
const FallbackNoContext = "I could not find relevant information to answer your question."

// Strategy selects the retrieval approach.
type Strategy string

// Available strategies.
const (
	// StrategyVanilla embeds the question as-is and takes the top results.
	StrategyVanilla Strategy = "vanilla"

	// StrategyRerank over-fetches, then asks the generative model to pick
	// the most relevant candidates.
	StrategyRerank Strategy = "rerank"

	// StrategySelfQuery rewrites the question into an enriched search query
	// before retrieval.
	StrategySelfQuery Strategy = "self_query"
)

// ParseStrategy validates a strategy name. Empty defaults to vanilla.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyVanilla, nil
	case StrategyVanilla, StrategyRerank, StrategySelfQuery:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Request is one question to answer.
type Request struct {
	Question string
	Strategy Strategy
}

// Context is one retrieved chunk returned alongside the answer.
type Context struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Page       int     `json:"page_number"`
	Source     string  `json:"source_filename"`
	StartIndex int     `json:"start_index"`
	Score      float32 `json:"score"`
}

// Response is a synthesized answer with its supporting contexts.
type Response struct {
	Answer         string    `json:"answer"`
	Contexts       []Context `json:"contexts"`
	Strategy       Strategy  `json:"strategy"`
	EffectiveQuery string    `json:"effective_query,omitempty"`
	ElapsedMS      int64     `json:"elapsed_ms"`
}

// Config holds retrieval parameters.
type Config struct {
	// Collection is the vector index collection to search.
	Collection string

	// VanillaTopK is how many chunks the vanilla strategy retrieves.
	VanillaTopK int

	// RerankFetchK is how many candidates the rerank strategy over-fetches.
	RerankFetchK int

	// RerankKeepK is how many candidates survive reranking.
	RerankKeepK int

	// SelfQueryTopK is how many chunks self-query retrieves with the
	// rewritten query.
	SelfQueryTopK int

	// InsightRetries bounds attempts to get parseable JSON insights.
	InsightRetries int
}

func (c *Config) applyDefaults() {
	if c.VanillaTopK <= 0 {
		c.VanillaTopK = 3
	}
	if c.RerankFetchK <= 0 {
		c.RerankFetchK = 10
	}
	if c.RerankKeepK <= 0 {
		c.RerankKeepK = 3
	}
	if c.SelfQueryTopK <= 0 {
		c.SelfQueryTopK = 10
	}
	if c.InsightRetries <= 0 {
		c.InsightRetries = 3
	}
}

// Service answers questions by retrieving chunks and synthesizing with the
// generative model.
type Service struct {
	config   Config
	index    vectorstore.Index
	embedder embeddings.Client
	model    genai.Client
	gate     *ingest.Gate
	logger   *logging.Logger
}

// NewService creates a query service.
func NewService(
	config Config,
	index vectorstore.Index,
	embedder embeddings.Client,
	model genai.Client,
	gate *ingest.Gate,
	logger *logging.Logger,
) (*Service, error) {
	if index == nil || embedder == nil || model == nil || gate == nil {
		return nil, fmt.Errorf("all query collaborators are required")
	}
	if err := vectorstore.ValidateCollectionName(config.Collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.applyDefaults()

	return &Service{
		config:   config,
		index:    index,
		embedder: embedder,
		model:    model,
		gate:     gate,
		logger:   logger.Named("query"),
	}, nil
}

// Answer runs the requested strategy and synthesizes an answer.
//
// If an ingestion is rebuilding the index, Answer waits for it to finish
// (bounded by ctx) before retrieving. Empty retrieval short-circuits to
// FallbackNoContext without calling the generative model.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "Service.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("strategy", string(req.Strategy)))

	if strings.TrimSpace(req.Question) == "" {
		return Response{}, ErrEmptyQuestion
	}
	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return Response{}, err
	}

	start := time.Now()

	if err := s.gate.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("waiting for ingestion: %w", err)
	}

	var (
		contexts       []Context
		effectiveQuery string
	)
	switch strategy {
	case StrategyVanilla:
		contexts, err = s.retrieve(ctx, req.Question, s.config.VanillaTopK)
	case StrategyRerank:
		contexts, err = s.rerank(ctx, req.Question)
	case StrategySelfQuery:
		contexts, effectiveQuery, err = s.selfQuery(ctx, req.Question)
	}
	if err != nil {
		span.RecordError(err)
		return Response{}, err
	}

	resp := Response{
		Contexts:       contexts,
		Strategy:       strategy,
		EffectiveQuery: effectiveQuery,
	}

	if len(contexts) == 0 {
		resp.Answer = FallbackNoContext
		resp.ElapsedMS = time.Since(start).Milliseconds()
		s.logger.Info(ctx, "no relevant context found",
			zap.String("strategy", string(strategy)),
		)
		return resp, nil
	}

	answer, err := s.synthesize(ctx, req.Question, contexts)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("synthesizing answer: %w", err)
	}

	resp.Answer = answer
	resp.ElapsedMS = time.Since(start).Milliseconds()

	s.logger.Info(ctx, "question answered",
		zap.String("strategy", string(strategy)),
		zap.Int("contexts", len(contexts)),
		zap.Int64("elapsed_ms", resp.ElapsedMS),
	)
	return resp, nil
}

// retrieve embeds the query text and searches the collection. An absent
// collection is treated as empty retrieval, not an error.
func (s *Service) retrieve(ctx context.Context, query string, limit int) ([]Context, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	records, err := s.index.Search(ctx, s.config.Collection, vector, limit)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("searching: %w", err)
	}

	contexts := make([]Context, len(records))
	for i, rec := range records {
		contexts[i] = Context{
			ID:         rec.ID,
			Text:       rec.Payload.Text,
			Page:       rec.Payload.Page,
			Source:     rec.Payload.Source,
			StartIndex: rec.Payload.StartIndex,
			Score:      rec.Score,
		}
	}
	return contexts, nil
}

// synthesize asks the generative model to answer from the given contexts
// only.
func (s *Service) synthesize(ctx context.Context, question string, contexts []Context) (string, error) {
	answer, err := s.model.Generate(ctx, synthesisPrompt(question, contexts))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
