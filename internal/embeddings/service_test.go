package embeddings_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragd/internal/embeddings"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    embeddings.Config
		wantError bool
	}{
		{
			name: "valid",
			config: embeddings.Config{
				BaseURL:   "http://localhost:8080/v1",
				Model:     "jinaai/jina-embeddings-v2-base-en",
				Dimension: 768,
			},
			wantError: false,
		},
		{
			name: "missing base URL",
			config: embeddings.Config{
				Model:     "some-model",
				Dimension: 768,
			},
			wantError: true,
		},
		{
			name: "missing model",
			config: embeddings.Config{
				BaseURL:   "http://localhost:8080/v1",
				Dimension: 768,
			},
			wantError: true,
		},
		{
			name: "zero dimension",
			config: embeddings.Config{
				BaseURL: "http://localhost:8080/v1",
				Model:   "some-model",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
	}{
		{name: "simple", input: []float32{3, 4}},
		{name: "negative components", input: []float32{-1, 2, -2}},
		{name: "already unit", input: []float32{1, 0, 0}},
		{name: "large values", input: []float32{100, 200, 300, 400}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := make([]float32, len(tt.input))
			copy(v, tt.input)
			embeddings.Normalize(v)

			var sum float64
			for _, x := range v {
				sum += float64(x) * float64(x)
			}
			assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
		})
	}
}

func TestNormalize_PreservesDirection(t *testing.T) {
	v := []float32{3, 4}
	embeddings.Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	embeddings.Normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNewService_InvalidConfig(t *testing.T) {
	_, err := embeddings.NewService(embeddings.Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
}

func TestService_Dimension(t *testing.T) {
	svc, err := embeddings.NewService(embeddings.Config{
		BaseURL:   "http://localhost:8080/v1",
		Model:     "test-model",
		Dimension: 768,
	})
	require.NoError(t, err)
	assert.Equal(t, 768, svc.Dimension())
}
