// Ragd is a retrieval-augmented question answering daemon for PDF documents.
//
// The daemon accepts chunked PDF uploads, indexes their text into a vector
// store, and answers questions over the indexed content through an HTTP API.
//
// Configuration is loaded from an optional YAML file and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	ragd
//
//	# Configure via flags and environment
//	SERVER_PORT=9000 GENAI_API_KEY=... ragd -config ragd.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/raglab/ragd/internal/chunker"
	"github.com/raglab/ragd/internal/config"
	"github.com/raglab/ragd/internal/embeddings"
	"github.com/raglab/ragd/internal/extract"
	"github.com/raglab/ragd/internal/genai"
	ragdhttp "github.com/raglab/ragd/internal/http"
	"github.com/raglab/ragd/internal/ingest"
	"github.com/raglab/ragd/internal/logging"
	"github.com/raglab/ragd/internal/query"
	"github.com/raglab/ragd/internal/telemetry"
	"github.com/raglab/ragd/internal/upload"
	"github.com/raglab/ragd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the ragd daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("ragd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the ragd server and blocks until context is cancelled.
//
// Initialization order:
//  1. Load .env and configuration
//  2. Initialize logger
//  3. Create the extraction, chunking, embedding and generation clients
//  4. Open the vector index backend
//  5. Wire the ingestion pipeline and query service behind a shared gate
//  6. Start HTTP server
//  7. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting ragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection),
	)

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		ServiceName:    "ragd",
		ServiceVersion: version,
		Insecure:       cfg.Telemetry.Insecure,
		TLSSkipVerify:  cfg.Telemetry.TLSSkipVerify,
		Sampling:       telemetry.SamplingConfig{Rate: cfg.Telemetry.SamplingRate},
		Metrics: telemetry.MetricsConfig{
			Enabled:        cfg.Telemetry.MetricsEnabled,
			ExportInterval: cfg.Telemetry.MetricsInterval,
		},
		Shutdown: telemetry.ShutdownConfig{Timeout: cfg.Server.ShutdownTimeout},
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	extractor := extract.NewPDFExtractor(logger)

	splitter, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.Embeddings.BaseURL,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	model, err := genai.NewHTTPClient(genai.Config{
		BaseURL:   cfg.GenAI.BaseURL,
		Model:     cfg.GenAI.Model,
		APIKey:    cfg.GenAI.APIKey.Value(),
		Timeout:   cfg.GenAI.Timeout.Duration(),
		RateLimit: cfg.GenAI.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating generative client: %w", err)
	}

	index, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer func() {
		_ = index.Close()
	}()

	gate := ingest.NewGate()
	registry := ingest.NewRegistry()

	pipeline, err := ingest.NewPipeline(
		ingest.Config{
			Collection:   cfg.VectorStore.Collection,
			EmbedTimeout: cfg.Embeddings.Timeout.Duration(),
			IndexTimeout: cfg.Ingest.IndexTimeout.Duration(),
		},
		extractor, splitter, embedder, index, gate, registry, logger,
	)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	querier, err := query.NewService(
		query.Config{
			Collection:     cfg.VectorStore.Collection,
			VanillaTopK:    cfg.Query.VanillaTopK,
			RerankFetchK:   cfg.Query.RerankFetchK,
			RerankKeepK:    cfg.Query.RerankKeepK,
			SelfQueryTopK:  cfg.Query.SelfQueryTopK,
			InsightRetries: cfg.Query.InsightRetries,
		},
		index, embedder, model, gate, logger,
	)
	if err != nil {
		return fmt.Errorf("creating query service: %w", err)
	}

	assembler, err := upload.NewAssembler(upload.Config{
		Dir:           cfg.Uploads.Dir,
		MaxChunkBytes: cfg.Uploads.MaxChunkBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating upload assembler: %w", err)
	}

	server, err := ragdhttp.NewServer(assembler, pipeline, querier, logger, &ragdhttp.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		IngestTimeout: cfg.Ingest.RunTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout.Duration(),
	)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
