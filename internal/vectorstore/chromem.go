package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chromemTracer = otel.Tracer("ragd.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// Compress enables gzip compression of persisted collections.
	Compress bool
}

// ChromemIndex is an Index backed by the embedded chromem-go database.
//
// It needs no external server, which makes it the default backend for
// single-node deployments and for tests. All vectors are provided by the
// caller; chromem's own embedding functions are never invoked.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig

	// mu serializes collection create/drop against reads. chromem guards its
	// own maps but recreate is a two-step operation here.
	mu sync.Mutex

	// dims tracks the vector dimension per collection for mismatch detection.
	dims map[string]int
}

// errExternalEmbeddings guards against chromem ever trying to embed content
// itself. Every document and query carries a precomputed vector.
var errExternalEmbeddings = errors.New("embeddings are computed externally")

func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errExternalEmbeddings
}

// NewChromemIndex opens or creates the database at the configured path. An
// empty path yields a volatile in-memory database.
func NewChromemIndex(config ChromemConfig) (*ChromemIndex, error) {
	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrConnectionFailed, config.Path, err)
		}
	}

	return &ChromemIndex{
		db:     db,
		config: config,
		dims:   make(map[string]int),
	}, nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemIndex) Close() error {
	return nil
}

// EnsureCollection creates the collection if absent. A tracked dimension
// mismatch drops and recreates the collection.
func (s *ChromemIndex) EnsureCollection(ctx context.Context, name string, dimension int) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.EnsureCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dimension),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dims[name]; ok && existing != dimension {
		if err := s.db.DeleteCollection(name); err != nil {
			span.RecordError(err)
			return fmt.Errorf("recreating collection %s: %w", name, err)
		}
		delete(s.dims, name)
	}

	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.dims[name] = dimension
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes records to the collection as chromem documents.
func (s *ChromemIndex) Upsert(ctx context.Context, name string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrEmptyRecords
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	collection := s.db.GetCollection(name, noEmbedding)
	if collection == nil {
		return ErrCollectionNotFound
	}

	if dim, ok := s.dims[name]; ok {
		for i, rec := range records {
			if len(rec.Vector) != dim {
				return fmt.Errorf("%w: record %d has %d dims, collection %s has %d",
					ErrDimensionMismatch, i, len(rec.Vector), name, dim)
			}
		}
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Payload.Text,
			Embedding: rec.Vector,
			Metadata: map[string]string{
				"page_number":     fmt.Sprintf("%d", rec.Payload.Page),
				"source_filename": rec.Payload.Source,
				"start_index":     fmt.Sprintf("%d", rec.Payload.StartIndex),
			},
		}
	}

	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding %d documents to collection %s: %w", len(docs), name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to limit records by descending cosine similarity.
func (s *ChromemIndex) Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("limit", limit),
	)

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	s.mu.Lock()
	collection := s.db.GetCollection(name, noEmbedding)
	s.mu.Unlock()
	if collection == nil {
		return nil, ErrCollectionNotFound
	}

	// chromem rejects nResults above the collection size.
	count := collection.Count()
	if count == 0 {
		return []ScoredRecord{}, nil
	}
	if limit > count {
		limit = count
	}

	hits, err := collection.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	results := make([]ScoredRecord, len(hits))
	for i, hit := range hits {
		results[i] = ScoredRecord{
			Record: Record{
				ID: hit.ID,
				Payload: Payload{
					Text:       hit.Content,
					Page:       atoiSafe(hit.Metadata["page_number"]),
					Source:     hit.Metadata["source_filename"],
					StartIndex: atoiSafe(hit.Metadata["start_index"]),
				},
			},
			Score: hit.Similarity,
		}
	}
	sortScored(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Drop removes the collection. Absent collections are not an error.
func (s *ChromemIndex) Drop(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.Drop")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.GetCollection(name, noEmbedding) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	delete(s.dims, name)

	span.SetStatus(codes.Ok, "success")
	return nil
}

// atoiSafe parses an integer, returning 0 on any failure.
func atoiSafe(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

var _ Index = (*ChromemIndex)(nil)
