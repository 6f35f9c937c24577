package query_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragd/internal/ingest"
	"github.com/raglab/ragd/internal/query"
	"github.com/raglab/ragd/internal/vectorstore"
)

// fixedEmbedder returns the same query vector for every text.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = f.vector
	}
	return vectors, nil
}

func (f fixedEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f fixedEmbedder) Dimension() int { return len(f.vector) }

// scriptedModel replays canned replies and records prompts.
type scriptedModel struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (m *scriptedModel) Generate(_ context.Context, prompt string) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "canned answer", nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

// seedIndex loads four chunks with descending similarity to the unit query
// vector (1,0,0,0).
func seedIndex(t *testing.T) vectorstore.Index {
	t.Helper()
	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, index.EnsureCollection(ctx, "chunks", 4))

	records := []vectorstore.Record{
		{ID: "c1", Vector: []float32{1, 0, 0, 0}, Payload: vectorstore.Payload{
			Text: "Cattle ranching is the leading driver of deforestation.", Page: 1, Source: "doc.pdf", StartIndex: 0}},
		{ID: "c2", Vector: []float32{0.9, 0.1, 0, 0}, Payload: vectorstore.Payload{
			Text: "Soy cultivation also clears large forest areas.", Page: 1, Source: "doc.pdf", StartIndex: 120}},
		{ID: "c3", Vector: []float32{0.7, 0.3, 0, 0}, Payload: vectorstore.Payload{
			Text: "Logging roads open remote forests to settlement.", Page: 2, Source: "doc.pdf", StartIndex: 0}},
		{ID: "c4", Vector: []float32{0.1, 0.9, 0, 0}, Payload: vectorstore.Payload{
			Text: "Reforestation can partially reverse the damage.", Page: 2, Source: "doc.pdf", StartIndex: 200}},
	}
	require.NoError(t, index.Upsert(ctx, "chunks", records))
	return index
}

func newService(t *testing.T, index vectorstore.Index, model *scriptedModel) *query.Service {
	t.Helper()
	svc, err := query.NewService(
		query.Config{Collection: "chunks"},
		index,
		fixedEmbedder{vector: []float32{1, 0, 0, 0}},
		model,
		ingest.NewGate(),
		nil,
	)
	require.NoError(t, err)
	return svc
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input     string
		want      query.Strategy
		wantError bool
	}{
		{input: "", want: query.StrategyVanilla},
		{input: "vanilla", want: query.StrategyVanilla},
		{input: "rerank", want: query.StrategyRerank},
		{input: "self_query", want: query.StrategySelfQuery},
		{input: "bogus", wantError: true},
		{input: "VANILLA", wantError: true},
	}

	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			got, err := query.ParseStrategy(tt.input)
			if tt.wantError {
				assert.ErrorIs(t, err, query.ErrUnknownStrategy)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAnswer_Vanilla(t *testing.T) {
	model := &scriptedModel{replies: []string{"Cattle ranching drives deforestation."}}
	svc := newService(t, seedIndex(t), model)

	resp, err := svc.Answer(context.Background(), query.Request{
		Question: "What drives deforestation?",
		Strategy: query.StrategyVanilla,
	})
	require.NoError(t, err)

	assert.Equal(t, "Cattle ranching drives deforestation.", resp.Answer)
	assert.Equal(t, query.StrategyVanilla, resp.Strategy)
	require.Len(t, resp.Contexts, 3)
	assert.Contains(t, resp.Contexts[0].Text, "Cattle ranching")
	assert.Contains(t, resp.Contexts[1].Text, "Soy cultivation")
	assert.Contains(t, resp.Contexts[2].Text, "Logging roads")

	// One call: synthesis only.
	require.Equal(t, 1, model.calls)
	assert.Contains(t, model.prompts[0], "What drives deforestation?")
	assert.Contains(t, model.prompts[0], "Cattle ranching is the leading driver")
	assert.Contains(t, model.prompts[0], "[doc.pdf p.1]")
}

func TestAnswer_EmptyRetrievalSkipsModel(t *testing.T) {
	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{})
	require.NoError(t, err)

	model := &scriptedModel{}
	svc := newService(t, index, model)

	resp, err := svc.Answer(context.Background(), query.Request{
		Question: "Anything at all?",
		Strategy: query.StrategyVanilla,
	})
	require.NoError(t, err)

	assert.Equal(t, query.FallbackNoContext, resp.Answer)
	assert.Empty(t, resp.Contexts)
	assert.Zero(t, model.calls, "the model must not be called without context")
}

func TestAnswer_Validation(t *testing.T) {
	svc := newService(t, seedIndex(t), &scriptedModel{})

	_, err := svc.Answer(context.Background(), query.Request{Question: "   "})
	assert.ErrorIs(t, err, query.ErrEmptyQuestion)

	_, err = svc.Answer(context.Background(), query.Request{
		Question: "ok?", Strategy: query.Strategy("bogus"),
	})
	assert.ErrorIs(t, err, query.ErrUnknownStrategy)
}

func TestAnswer_WaitsOutIngestion(t *testing.T) {
	gate := ingest.NewGate()
	svc, err := query.NewService(
		query.Config{Collection: "chunks"},
		seedIndex(t),
		fixedEmbedder{vector: []float32{1, 0, 0, 0}},
		&scriptedModel{},
		gate,
		nil,
	)
	require.NoError(t, err)

	require.NoError(t, gate.AcquireForIngest())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = svc.Answer(ctx, query.Request{Question: "blocked?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Released gate unblocks new queries.
	gate.Release()
	_, err = svc.Answer(context.Background(), query.Request{Question: "free now?"})
	assert.NoError(t, err)
}

func TestAnswer_Rerank(t *testing.T) {
	model := &scriptedModel{replies: []string{"2, 1", "synthesized"}}
	svc := newService(t, seedIndex(t), model)

	resp, err := svc.Answer(context.Background(), query.Request{
		Question: "What drives deforestation?",
		Strategy: query.StrategyRerank,
	})
	require.NoError(t, err)

	assert.Equal(t, "synthesized", resp.Answer)
	require.Len(t, resp.Contexts, 2)
	assert.Contains(t, resp.Contexts[0].Text, "Soy cultivation")
	assert.Contains(t, resp.Contexts[1].Text, "Cattle ranching")

	// Two calls: selection, then synthesis.
	require.Equal(t, 2, model.calls)
	assert.Contains(t, model.prompts[0], "1. Cattle ranching is the leading driver")
	assert.Contains(t, model.prompts[0], "2. Soy cultivation also clears")
}

func TestAnswer_RerankFallsBackOnGarbage(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "prose", reply: "the most relevant are two and seven"},
		{name: "out of range", reply: "2, 99"},
		{name: "duplicates", reply: "2, 2, 1"},
		{name: "empty", reply: ""},
		{name: "floats", reply: "1.5, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{replies: []string{tt.reply, "fallback answer"}}
			svc := newService(t, seedIndex(t), model)

			resp, err := svc.Answer(context.Background(), query.Request{
				Question: "What drives deforestation?",
				Strategy: query.StrategyRerank,
			})
			require.NoError(t, err)

			// Similarity order survives, trimmed to keep_k.
			require.Len(t, resp.Contexts, 3)
			assert.Contains(t, resp.Contexts[0].Text, "Cattle ranching")
			assert.Contains(t, resp.Contexts[1].Text, "Soy cultivation")
			assert.Contains(t, resp.Contexts[2].Text, "Logging roads")
			assert.Equal(t, "fallback answer", resp.Answer)
		})
	}
}

func TestAnswer_RerankSelectionErrorFallsBack(t *testing.T) {
	model := &scriptedModel{err: errors.New("model down")}
	svc := newService(t, seedIndex(t), model)

	// Selection fails, fallback kicks in, then synthesis also fails; the
	// request surfaces the synthesis error.
	_, err := svc.Answer(context.Background(), query.Request{
		Question: "What drives deforestation?",
		Strategy: query.StrategyRerank,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model down")
}

func TestAnswer_SelfQuery(t *testing.T) {
	insights := "```json\n{\"keywords\": [\"deforestation\", \"drivers\"], \"topics\": [\"land use\"], \"intent\": \"find causes\"}\n```"
	model := &scriptedModel{replies: []string{insights, "self-query answer"}}
	svc := newService(t, seedIndex(t), model)

	resp, err := svc.Answer(context.Background(), query.Request{
		Question: "What drives deforestation?",
		Strategy: query.StrategySelfQuery,
	})
	require.NoError(t, err)

	assert.Equal(t, "self-query answer", resp.Answer)
	assert.Contains(t, resp.EffectiveQuery, "What drives deforestation?")
	assert.Contains(t, resp.EffectiveQuery, "Keywords: deforestation, drivers")
	assert.Contains(t, resp.EffectiveQuery, "Intent: find causes")
	assert.Contains(t, resp.EffectiveQuery, "Topics: land use")
	assert.Len(t, resp.Contexts, 4)
}

func TestAnswer_SelfQueryParsesOnThirdAttempt(t *testing.T) {
	insights := `{"keywords": ["soy", "cattle"], "topics": ["agriculture"], "intent": "find causes"}`
	model := &scriptedModel{replies: []string{
		"not json", "{broken",
		insights,
		"third time lucky",
	}}
	svc := newService(t, seedIndex(t), model)

	resp, err := svc.Answer(context.Background(), query.Request{
		Question: "What drives deforestation?",
		Strategy: query.StrategySelfQuery,
	})
	require.NoError(t, err)

	// The third reply parses, so the enriched query is used, not defaults.
	assert.Contains(t, resp.EffectiveQuery, "Keywords: soy, cattle")
	assert.Contains(t, resp.EffectiveQuery, "Intent: find causes")
	assert.Contains(t, resp.EffectiveQuery, "Topics: agriculture")
	assert.Equal(t, "third time lucky", resp.Answer)

	// Three insight attempts plus one synthesis call.
	assert.Equal(t, 4, model.calls)
}

func TestAnswer_SelfQueryDefaultsAfterRetries(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"not json", "still not json", "nope",
		"answered anyway",
	}}
	svc := newService(t, seedIndex(t), model)

	resp, err := svc.Answer(context.Background(), query.Request{
		Question: "What drives deforestation?",
		Strategy: query.StrategySelfQuery,
	})
	require.NoError(t, err)

	// Defaults add nothing to the query.
	assert.Equal(t, "What drives deforestation?", resp.EffectiveQuery)
	assert.Equal(t, "answered anyway", resp.Answer)

	// Three insight attempts plus one synthesis call.
	assert.Equal(t, 4, model.calls)
}

func TestAnswer_ElapsedAndContextFields(t *testing.T) {
	model := &scriptedModel{replies: []string{"quick answer"}}
	svc := newService(t, seedIndex(t), model)

	resp, err := svc.Answer(context.Background(), query.Request{Question: "q?"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, resp.ElapsedMS, int64(0))
	for _, c := range resp.Contexts {
		assert.NotEmpty(t, c.Text)
		assert.NotEmpty(t, c.Source)
		assert.Greater(t, c.Page, 0)
	}
}

func TestSynthesisPromptOrdering(t *testing.T) {
	model := &scriptedModel{replies: []string{"a"}}
	svc := newService(t, seedIndex(t), model)

	_, err := svc.Answer(context.Background(), query.Request{Question: "order?"})
	require.NoError(t, err)

	prompt := model.prompts[0]
	first := strings.Index(prompt, "Cattle ranching")
	second := strings.Index(prompt, "Soy cultivation")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second, "contexts appear in similarity order")
	assert.True(t, strings.Contains(prompt, fmt.Sprintf("Question: %s", "order?")))
}
