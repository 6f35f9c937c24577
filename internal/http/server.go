// Package http provides the HTTP API for ragd.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/raglab/ragd/internal/ingest"
	"github.com/raglab/ragd/internal/logging"
	"github.com/raglab/ragd/internal/query"
	"github.com/raglab/ragd/internal/upload"
)

// pdfMagic is the PDF file signature. The first chunk must start with it.
var pdfMagic = []byte("%PDF-")

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo      *echo.Echo
	assembler *upload.Assembler
	pipeline  *ingest.Pipeline
	querier   *query.Service
	logger    *logging.Logger
	config    *Config

	// ingestTimeout bounds a background ingestion run.
	ingestTimeout time.Duration
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// IngestTimeout bounds one background ingestion. Zero means 10 minutes.
	IngestTimeout time.Duration
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	assembler *upload.Assembler,
	pipeline *ingest.Pipeline,
	querier *query.Service,
	logger *logging.Logger,
	cfg *Config,
) (*Server, error) {
	if assembler == nil || pipeline == nil || querier == nil {
		return nil, fmt.Errorf("assembler, pipeline and query service are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8000}
	}
	ingestTimeout := cfg.IngestTimeout
	if ingestTimeout <= 0 {
		ingestTimeout = 10 * time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			start := time.Now()
			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})
	e.Use(NewHTTPMetrics(logger.Zap()).MetricsMiddleware())

	s := &Server{
		echo:          e,
		assembler:     assembler,
		pipeline:      pipeline,
		querier:       querier,
		logger:        logger.Named("http"),
		config:        cfg,
		ingestTimeout: ingestTimeout,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/upload_chunk", s.handleUploadChunk)
	s.echo.GET("/documents/:id", s.handleDocumentStatus)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Gate   string `json:"gate"`
}

// handleHealth reports liveness and the ingestion gate state.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Gate:   s.pipeline.Gate().State().String(),
	})
}

// UploadChunkResponse is the response body for POST /upload_chunk.
type UploadChunkResponse struct {
	Filename       string `json:"filename"`
	ChunkNumber    int    `json:"chunk_number"`
	SizeBytes      int64  `json:"size_bytes"`
	Complete       bool   `json:"complete"`
	IngestStarted  bool   `json:"ingest_started"`
	IngestRejected string `json:"ingest_rejected,omitempty"`
}

// handleUploadChunk accepts one multipart chunk of a PDF upload. Receiving
// the final chunk kicks off ingestion in the background.
//
// Form fields: file_chunk (the bytes), filename (content hash, .pdf),
// chunk_number (0-based), total_chunks.
func (s *Server) handleUploadChunk(c echo.Context) error {
	ctx := c.Request().Context()

	filename := c.FormValue("filename")
	if err := upload.ValidateFilename(filename); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	chunkNumber, err := strconv.Atoi(c.FormValue("chunk_number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "chunk_number must be an integer")
	}
	totalChunks, err := strconv.Atoi(c.FormValue("total_chunks"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "total_chunks must be an integer")
	}

	fileHeader, err := c.FormFile("file_chunk")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file_chunk field is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read file_chunk")
	}
	defer src.Close()

	var reader io.Reader = src
	if chunkNumber == 0 {
		// Sniff the PDF signature off the first chunk before writing.
		head := make([]byte, len(pdfMagic))
		n, err := io.ReadFull(src, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot read file_chunk")
		}
		if !bytes.HasPrefix(head[:n], pdfMagic) {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "only PDF uploads are accepted")
		}
		reader = io.MultiReader(bytes.NewReader(head[:n]), src)
	}

	result, err := s.assembler.AppendChunk(ctx, filename, chunkNumber, totalChunks, reader)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidChunk), errors.Is(err, upload.ErrInvalidFilename):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, upload.ErrChunkTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		default:
			s.logger.Error(ctx, "chunk write failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to store chunk")
		}
	}

	resp := UploadChunkResponse{
		Filename:    result.Filename,
		ChunkNumber: chunkNumber,
		SizeBytes:   result.Size,
		Complete:    result.Complete,
	}

	if result.Complete {
		doc := ingest.Document{
			ID:       docID(result.Filename),
			Filename: result.Filename,
			Path:     result.Path,
			Size:     result.Size,
		}
		if err := s.pipeline.IngestAsync(doc, s.ingestTimeout); err != nil {
			resp.IngestRejected = err.Error()
		} else {
			resp.IngestStarted = true
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// docID derives the document ID from the content-hash filename.
func docID(filename string) string {
	return filename[:len(filename)-len(".pdf")]
}

// handleDocumentStatus reports a document's ingestion state.
func (s *Server) handleDocumentStatus(c echo.Context) error {
	doc, err := s.pipeline.Registry().Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up document")
	}
	return c.JSON(http.StatusOK, doc)
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Question string `json:"question"`
	Strategy string `json:"strategy"`
}

// handleQuery answers a question with the requested retrieval strategy.
func (s *Server) handleQuery(c echo.Context) error {
	ctx := c.Request().Context()

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	strategy, err := query.ParseStrategy(req.Strategy)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := s.querier.Answer(ctx, query.Request{
		Question: req.Question,
		Strategy: strategy,
	})
	if err != nil {
		switch {
		case errors.Is(err, query.ErrEmptyQuestion):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return echo.NewHTTPError(http.StatusGatewayTimeout, "query timed out")
		default:
			s.logger.Error(ctx, "query failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to answer question")
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Handler exposes the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
