// Package ingest rebuilds the vector index from an uploaded document.
//
// Ingestion is exclusive: the Gate keeps queries out while the collection is
// dropped and reloaded, so readers never observe a half-built index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/raglab/ragd/internal/chunker"
	"github.com/raglab/ragd/internal/embeddings"
	"github.com/raglab/ragd/internal/extract"
	"github.com/raglab/ragd/internal/logging"
	"github.com/raglab/ragd/internal/vectorstore"
)

var tracer = otel.Tracer("ragd.ingest")

// ErrNotFound is returned when a document ID is unknown to the registry.
var ErrNotFound = errors.New("document not found")

// Status is a document's position in the ingestion pipeline.
type Status string

// Pipeline states, in order. Failed is terminal from any state.
const (
	StatusReceived  Status = "received"
	StatusExtracted Status = "extracted"
	StatusChunked   Status = "chunked"
	StatusEmbedded  Status = "embedded"
	StatusIndexed   Status = "indexed"
	StatusFailed    Status = "failed"
)

// Document tracks one ingested document.
type Document struct {
	// ID is the document's content hash, taken from the upload filename.
	ID string `json:"id"`

	// Filename is the stored file name.
	Filename string `json:"filename"`

	// Path is the reassembled file's location on disk.
	Path string `json:"-"`

	// Size is the file size in bytes.
	Size int64 `json:"size_bytes"`

	// Status is the current pipeline state.
	Status Status `json:"status"`

	// Error holds the failure reason when Status is failed.
	Error string `json:"error,omitempty"`

	// Pages is the number of pages that yielded text.
	Pages int `json:"pages,omitempty"`

	// Chunks is the number of chunks indexed.
	Chunks int `json:"chunks,omitempty"`

	// UpdatedAt is the time of the last status transition.
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is an in-memory store of document ingestion states.
type Registry struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]Document)}
}

// Get returns the document with the given ID.
func (r *Registry) Get(id string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// put stores the document keyed by its ID.
func (r *Registry) put(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.UpdatedAt = time.Now().UTC()
	r.docs[doc.ID] = doc
}

// Config holds pipeline settings.
type Config struct {
	// Collection is the vector index collection to rebuild.
	Collection string

	// EmbedTimeout bounds the embedding call for the whole batch.
	EmbedTimeout time.Duration

	// IndexTimeout bounds each index operation (drop, create, upsert).
	IndexTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 120 * time.Second
	}
	if c.IndexTimeout <= 0 {
		c.IndexTimeout = 60 * time.Second
	}
}

// Pipeline runs extract, chunk, embed and index for one document at a time.
type Pipeline struct {
	config    Config
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  embeddings.Client
	index     vectorstore.Index
	gate      *Gate
	registry  *Registry
	logger    *logging.Logger
}

// NewPipeline creates an ingestion pipeline. All collaborators are required
// except the logger.
func NewPipeline(
	config Config,
	extractor extract.Extractor,
	ch *chunker.Chunker,
	embedder embeddings.Client,
	index vectorstore.Index,
	gate *Gate,
	registry *Registry,
	logger *logging.Logger,
) (*Pipeline, error) {
	if extractor == nil || ch == nil || embedder == nil || index == nil || gate == nil || registry == nil {
		return nil, fmt.Errorf("all pipeline collaborators are required")
	}
	if err := vectorstore.ValidateCollectionName(config.Collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.applyDefaults()

	return &Pipeline{
		config:    config,
		extractor: extractor,
		chunker:   ch,
		embedder:  embedder,
		index:     index,
		gate:      gate,
		registry:  registry,
		logger:    logger.Named("ingest"),
	}, nil
}

// Gate exposes the pipeline's gate so query paths can wait on it.
func (p *Pipeline) Gate() *Gate { return p.gate }

// Registry exposes the document status registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Ingest rebuilds the collection from the document at doc.Path.
//
// Returns ErrIngestInProgress without side effects when another ingestion
// holds the gate. Any step failure marks the document failed and is returned;
// the index may be left empty and needs another ingest to recover.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) error {
	if err := p.gate.AcquireForIngest(); err != nil {
		return err
	}
	defer p.gate.Release()

	return p.run(ctx, doc)
}

// IngestAsync acquires the gate synchronously, so a busy pipeline is
// reported to the caller immediately, then runs the rebuild in the
// background bounded by timeout.
func (p *Pipeline) IngestAsync(doc Document, timeout time.Duration) error {
	if err := p.gate.AcquireForIngest(); err != nil {
		return err
	}

	go func() {
		defer p.gate.Release()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := p.run(ctx, doc); err != nil {
			p.logger.Error(ctx, "background ingestion failed",
				zap.String("document.id", doc.ID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// run executes the pipeline stages. The caller holds the gate.
func (p *Pipeline) run(ctx context.Context, doc Document) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.filename", doc.Filename),
	)

	ctx = logging.WithDocumentID(ctx, doc.ID)
	start := time.Now()

	doc.Status = StatusReceived
	p.registry.put(doc)

	fail := func(stage string, err error) error {
		doc.Status = StatusFailed
		doc.Error = err.Error()
		p.registry.put(doc)
		span.RecordError(err)
		p.logger.Error(ctx, "ingestion failed",
			zap.String("stage", stage),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", stage, err)
	}

	pages, err := p.extractPages(ctx, doc)
	if err != nil {
		return fail("extract", err)
	}
	doc.Status = StatusExtracted
	doc.Pages = len(pages)
	p.registry.put(doc)

	chunks, err := p.chunkPages(pages, doc.Filename)
	if err != nil {
		return fail("chunk", err)
	}
	if len(chunks) == 0 {
		return fail("chunk", extract.ErrNoText)
	}
	doc.Status = StatusChunked
	doc.Chunks = len(chunks)
	p.registry.put(doc)

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return fail("embed", err)
	}
	doc.Status = StatusEmbedded
	p.registry.put(doc)

	if err := p.reloadCollection(ctx, chunks, vectors); err != nil {
		return fail("index", err)
	}
	doc.Status = StatusIndexed
	p.registry.put(doc)

	p.logger.Info(ctx, "document ingested",
		zap.String("filename", doc.Filename),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (p *Pipeline) extractPages(ctx context.Context, doc Document) ([]extract.Page, error) {
	f, err := os.Open(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", doc.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", doc.Path, err)
	}

	return p.extractor.Extract(ctx, f, info.Size())
}

// chunkPages splits each page, keeping ordinals monotonic across the
// document.
func (p *Pipeline) chunkPages(pages []extract.Page, source string) ([]chunker.Chunk, error) {
	var chunks []chunker.Chunk
	for _, page := range pages {
		pageChunks, err := p.chunker.SplitPage(page, source, len(chunks))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, pageChunks...)
	}
	return chunks, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.EmbedTimeout)
	defer cancel()

	return p.embedder.EmbedDocuments(ctx, texts)
}

// reloadCollection replaces the collection contents wholesale: drop,
// recreate, then upsert everything in one batch.
func (p *Pipeline) reloadCollection(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error {
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Text:       c.Text,
				Page:       c.Page,
				Source:     c.Source,
				StartIndex: c.StartOffset,
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.IndexTimeout)
	defer cancel()

	if err := p.index.Drop(ctx, p.config.Collection); err != nil {
		return fmt.Errorf("dropping collection: %w", err)
	}
	if err := p.index.EnsureCollection(ctx, p.config.Collection, p.embedder.Dimension()); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	if err := p.index.Upsert(ctx, p.config.Collection, records); err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}
	return nil
}
