package ingest_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragd/internal/chunker"
	"github.com/raglab/ragd/internal/extract"
	"github.com/raglab/ragd/internal/ingest"
	"github.com/raglab/ragd/internal/vectorstore"
)

type stubExtractor struct {
	pages []extract.Page
	err   error
}

func (s stubExtractor) Extract(_ context.Context, _ io.ReaderAt, _ int64) ([]extract.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages, nil
}

type stubEmbedder struct {
	dim int
	err error
}

func (s stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = s.vector(text)
	}
	return vectors, nil
}

func (s stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector(text), nil
}

func (s stubEmbedder) Dimension() int { return s.dim }

// vector maps a text onto a unit basis vector, so different texts are
// distinguishable but dimensions stay fixed.
func (s stubEmbedder) vector(text string) []float32 {
	v := make([]float32, s.dim)
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	v[sum%s.dim] = 1
	return v
}

func testDocument(t *testing.T) ingest.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-stub"), 0o644))
	return ingest.Document{
		ID:       "abc123",
		Filename: "doc.pdf",
		Path:     path,
		Size:     9,
	}
}

func newTestPipeline(t *testing.T, extractor extract.Extractor, embedder stubEmbedder) (*ingest.Pipeline, vectorstore.Index) {
	t.Helper()

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{})
	require.NoError(t, err)

	splitter, err := chunker.New(50, 10)
	require.NoError(t, err)

	pipeline, err := ingest.NewPipeline(
		ingest.Config{Collection: "chunks"},
		extractor, splitter, embedder, index,
		ingest.NewGate(), ingest.NewRegistry(), nil,
	)
	require.NoError(t, err)
	return pipeline, index
}

func TestPipeline_IngestIndexesDocument(t *testing.T) {
	extractor := stubExtractor{pages: []extract.Page{
		{Number: 1, Text: "Deforestation is driven by agricultural expansion and logging."},
		{Number: 2, Text: "Reforestation programs can restore degraded land over decades."},
	}}
	embedder := stubEmbedder{dim: 8}
	pipeline, index := newTestPipeline(t, extractor, embedder)

	doc := testDocument(t)
	require.NoError(t, pipeline.Ingest(context.Background(), doc))

	stored, err := pipeline.Registry().Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusIndexed, stored.Status)
	assert.Equal(t, 2, stored.Pages)
	assert.Greater(t, stored.Chunks, 0)
	assert.Empty(t, stored.Error)

	results, err := index.Search(context.Background(), "chunks", embedder.vector("anything"), 100)
	require.NoError(t, err)
	assert.Len(t, results, stored.Chunks)

	// Gate is free again.
	assert.Equal(t, ingest.GateIdle, pipeline.Gate().State())
}

func TestPipeline_ReingestReplacesCollection(t *testing.T) {
	first := stubExtractor{pages: []extract.Page{
		{Number: 1, Text: "First document with several sentences worth of content for chunking."},
	}}
	embedder := stubEmbedder{dim: 8}
	pipeline, index := newTestPipeline(t, first, embedder)

	doc := testDocument(t)
	require.NoError(t, pipeline.Ingest(context.Background(), doc))

	before, err := index.Search(context.Background(), "chunks", embedder.vector("x"), 100)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// Second ingest through a pipeline sharing the same index: the
	// collection is replaced wholesale, not appended to.
	splitter, err := chunker.New(50, 10)
	require.NoError(t, err)
	replacement, err := ingest.NewPipeline(
		ingest.Config{Collection: "chunks"},
		stubExtractor{pages: []extract.Page{{Number: 1, Text: "Tiny."}}},
		splitter, embedder, index,
		ingest.NewGate(), ingest.NewRegistry(), nil,
	)
	require.NoError(t, err)

	require.NoError(t, replacement.Ingest(context.Background(), doc))

	after, err := index.Search(context.Background(), "chunks", embedder.vector("x"), 100)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestPipeline_ExtractFailureMarksFailed(t *testing.T) {
	pipeline, _ := newTestPipeline(t, stubExtractor{err: extract.ErrNoText}, stubEmbedder{dim: 8})

	doc := testDocument(t)
	err := pipeline.Ingest(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrNoText)

	stored, err := pipeline.Registry().Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	// Failure must release the gate.
	assert.NoError(t, pipeline.Gate().AcquireForIngest())
}

func TestPipeline_EmbedFailureMarksFailed(t *testing.T) {
	extractor := stubExtractor{pages: []extract.Page{
		{Number: 1, Text: "Some content that will chunk fine but fail to embed."},
	}}
	pipeline, _ := newTestPipeline(t, extractor, stubEmbedder{dim: 8, err: assert.AnError})

	doc := testDocument(t)
	err := pipeline.Ingest(context.Background(), doc)
	require.Error(t, err)

	stored, err := pipeline.Registry().Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, stored.Status)
	assert.Equal(t, ingest.GateIdle, pipeline.Gate().State())
}

func TestPipeline_RejectsConcurrentIngest(t *testing.T) {
	extractor := stubExtractor{pages: []extract.Page{{Number: 1, Text: "content"}}}
	pipeline, _ := newTestPipeline(t, extractor, stubEmbedder{dim: 8})

	require.NoError(t, pipeline.Gate().AcquireForIngest())
	defer pipeline.Gate().Release()

	err := pipeline.Ingest(context.Background(), testDocument(t))
	assert.ErrorIs(t, err, ingest.ErrIngestInProgress)
}

func TestPipeline_IngestAsync(t *testing.T) {
	extractor := stubExtractor{pages: []extract.Page{
		{Number: 1, Text: "Asynchronous ingestion should complete in the background."},
	}}
	pipeline, _ := newTestPipeline(t, extractor, stubEmbedder{dim: 8})

	doc := testDocument(t)
	require.NoError(t, pipeline.IngestAsync(doc, time.Minute))

	require.Eventually(t, func() bool {
		stored, err := pipeline.Registry().Get(doc.ID)
		return err == nil && stored.Status == ingest.StatusIndexed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, ingest.GateIdle, pipeline.Gate().State())
}

func TestPipeline_MissingFile(t *testing.T) {
	extractor := stubExtractor{pages: []extract.Page{{Number: 1, Text: "content"}}}
	pipeline, _ := newTestPipeline(t, extractor, stubEmbedder{dim: 8})

	err := pipeline.Ingest(context.Background(), ingest.Document{
		ID:       "missing",
		Filename: "missing.pdf",
		Path:     "/nonexistent/missing.pdf",
	})
	require.Error(t, err)

	stored, err := pipeline.Registry().Get("missing")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, stored.Status)
}
