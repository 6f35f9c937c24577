// Package config provides configuration loading for ragd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the ragd daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Uploads     UploadsConfig     `koanf:"uploads"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	GenAI       GenAIConfig       `koanf:"genai"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Query       QueryConfig       `koanf:"query"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// UploadsConfig controls the chunked upload reassembler.
type UploadsConfig struct {
	Dir           string `koanf:"dir"`
	MaxChunkBytes int64  `koanf:"max_chunk_bytes"`
}

// ChunkerConfig controls text splitting. Sizes are measured in characters.
type ChunkerConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// EmbeddingsConfig configures the remote embedding model.
type EmbeddingsConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
}

// GenAIConfig configures the generative model used for synthesis,
// reranking and query rewriting.
type GenAIConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider   string        `koanf:"provider"`
	Collection string        `koanf:"collection"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
	Chromem    ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// ChromemConfig holds embedded store settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// TelemetryConfig holds OTLP exporter settings. Disabled by default;
// without a collector the exporters only produce connection noise.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	TLSSkipVerify   bool     `koanf:"tls_skip_verify"`
	SamplingRate    float64  `koanf:"sampling_rate"`
	MetricsEnabled  bool     `koanf:"metrics_enabled"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// IngestConfig bounds the indexing pipeline.
type IngestConfig struct {
	// IndexTimeout bounds each vector index operation.
	IndexTimeout Duration `koanf:"index_timeout"`

	// RunTimeout bounds one background ingestion end to end.
	RunTimeout Duration `koanf:"run_timeout"`
}

// QueryConfig holds retrieval strategy parameters.
type QueryConfig struct {
	VanillaTopK    int `koanf:"vanilla_top_k"`
	RerankFetchK   int `koanf:"rerank_fetch_k"`
	RerankKeepK    int `koanf:"rerank_keep_k"`
	SelfQueryTopK  int `koanf:"self_query_top_k"`
	InsightRetries int `koanf:"insight_retries"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, chunk size), got %d", c.Chunker.ChunkOverlap)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Collection == "" {
		return fmt.Errorf("vectorstore collection name required")
	}
	if c.VectorStore.Provider == "qdrant" {
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.VectorStore.Qdrant.Port)
		}
	}
	if c.Query.RerankKeepK > c.Query.RerankFetchK {
		return fmt.Errorf("rerank keep_k (%d) cannot exceed fetch_k (%d)",
			c.Query.RerankKeepK, c.Query.RerankFetchK)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = "uploads_pdf"
	}
	if cfg.Uploads.MaxChunkBytes == 0 {
		cfg.Uploads.MaxChunkBytes = 16 * 1024 * 1024 // 16MB per upload chunk
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = 100
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "jinaai/jina-embeddings-v2-base-en"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 768 // jina-embeddings-v2-base-en
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.GenAI.BaseURL == "" {
		cfg.GenAI.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.GenAI.Model == "" {
		cfg.GenAI.Model = "gemini-2.5-flash"
	}
	if cfg.GenAI.Timeout == 0 {
		cfg.GenAI.Timeout = Duration(60 * time.Second)
	}
	if cfg.GenAI.RateLimit == 0 {
		cfg.GenAI.RateLimit = 2 // requests per second
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "pdf_chunks"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/ragd/vectorstore"
	}

	if cfg.Ingest.IndexTimeout == 0 {
		cfg.Ingest.IndexTimeout = Duration(60 * time.Second)
	}
	if cfg.Ingest.RunTimeout == 0 {
		cfg.Ingest.RunTimeout = Duration(10 * time.Minute)
	}

	if cfg.Query.VanillaTopK == 0 {
		cfg.Query.VanillaTopK = 3
	}
	if cfg.Query.RerankFetchK == 0 {
		cfg.Query.RerankFetchK = 10
	}
	if cfg.Query.RerankKeepK == 0 {
		cfg.Query.RerankKeepK = 3
	}
	if cfg.Query.SelfQueryTopK == 0 {
		cfg.Query.SelfQueryTopK = 10
	}
	if cfg.Query.InsightRetries == 0 {
		cfg.Query.InsightRetries = 3
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = Duration(15 * time.Second)
	}
}
