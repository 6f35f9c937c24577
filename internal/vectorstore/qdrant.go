package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("ragd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334 by default, not the HTTP 6333).
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional for local servers.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures.
	MaxRetries int

	// RetryBackoff is the initial backoff duration. Doubles on each retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// isTransientError checks whether a gRPC error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex is an Index backed by Qdrant's native gRPC client.
//
// gRPC transport avoids the HTTP layer's payload limits and gives binary
// protobuf encoding for large upsert batches.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig

	// dims caches the configured dimension per collection.
	dims sync.Map
}

// NewQdrantIndex connects to Qdrant and verifies the connection with a
// health check.
func NewQdrantIndex(config QdrantConfig) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client: client,
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return idx, nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !isTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// EnsureCollection creates a cosine collection if absent; drops and
// recreates it when the existing dimension does not match.
func (s *QdrantIndex) EnsureCollection(ctx context.Context, name string, dimension int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.EnsureCollection")
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

	existing, err := s.collectionDimension(ctx, name)
	if err != nil {
		span.RecordError(err)
		return err
	}

	switch {
	case existing == dimension:
		// Already configured correctly; second call is a no-op.
		s.dims.Store(name, dimension)
		span.SetStatus(codes.Ok, "exists")
		return nil
	case existing > 0:
		// Dimension mismatch: recreate rather than leave the collection
		// inconsistent with the embedding model.
		if err := s.Drop(ctx, name); err != nil {
			span.RecordError(err)
			return err
		}
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.dims.Store(name, dimension)
	span.SetStatus(codes.Ok, "created")
	return nil
}

// collectionDimension returns the existing collection's vector size, or 0
// if the collection does not exist.
func (s *QdrantIndex) collectionDimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.retryOperation(ctx, "get_collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				dim = 0
				return nil
			}
			return err
		}
		dim = 0
		if cfg := info.GetConfig(); cfg != nil {
			if params := cfg.GetParams(); params != nil {
				if vc := params.GetVectorsConfig(); vc != nil {
					if vp := vc.GetParams(); vp != nil {
						dim = int(vp.GetSize())
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("checking collection %s: %w", name, err)
	}
	return dim, nil
}

// Upsert writes records to the collection in a single batch.
func (s *QdrantIndex) Upsert(ctx context.Context, name string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
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

	if dim, ok := s.dims.Load(name); ok {
		for i, rec := range records {
			if len(rec.Vector) != dim.(int) {
				return fmt.Errorf("%w: record %d has %d dims, collection %s has %d",
					ErrDimensionMismatch, i, len(rec.Vector), name, dim.(int))
			}
		}
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payloadToQdrant(rec.ID, rec.Payload),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points to collection %s: %w", len(points), name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to limit records by descending cosine similarity.
func (s *QdrantIndex) Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Search")
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

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, ErrCollectionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", name, err)
	}

	results := make([]ScoredRecord, len(points))
	for i, point := range points {
		id, payload := payloadFromQdrant(point.Payload)
		results[i] = ScoredRecord{
			Record: Record{ID: id, Payload: payload},
			Score:  point.Score,
		}
	}
	sortScored(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Drop removes the collection. Absent collections are not an error.
func (s *QdrantIndex) Drop(ctx context.Context, name string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Drop")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	err := s.retryOperation(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}

	s.dims.Delete(name)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// payloadToQdrant converts a Payload to a Qdrant value map. The record ID is
// mirrored into the payload for retrieval.
func payloadToQdrant(id string, p Payload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"id":              {Kind: &qdrant.Value_StringValue{StringValue: id}},
		"text":            {Kind: &qdrant.Value_StringValue{StringValue: p.Text}},
		"page_number":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Page)}},
		"source_filename": {Kind: &qdrant.Value_StringValue{StringValue: p.Source}},
		"start_index":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.StartIndex)}},
	}
}

// payloadFromQdrant converts a Qdrant value map back to an ID and Payload.
func payloadFromQdrant(values map[string]*qdrant.Value) (string, Payload) {
	var id string
	var p Payload
	for k, v := range values {
		switch k {
		case "id":
			id = v.GetStringValue()
		case "text":
			p.Text = v.GetStringValue()
		case "page_number":
			p.Page = int(v.GetIntegerValue())
		case "source_filename":
			p.Source = v.GetStringValue()
		case "start_index":
			p.StartIndex = int(v.GetIntegerValue())
		}
	}
	return id, p
}

var _ Index = (*QdrantIndex)(nil)
