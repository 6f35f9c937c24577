// Package vectorstore defines the vector index capability and its backends.
package vectorstore

import (
	"context"
	"errors"
	"regexp"
	"sort"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates a record vector whose length does not
	// match the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyRecords indicates an upsert with no records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrConnectionFailed indicates backend connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// Payload is the metadata stored alongside each vector.
type Payload struct {
	// Text is the chunk content.
	Text string `json:"text"`

	// Page is the 1-based source page number.
	Page int `json:"page_number"`

	// Source is the originating filename.
	Source string `json:"source_filename"`

	// StartIndex is the chunk's character offset within its page.
	StartIndex int `json:"start_index"`
}

// Record is the persisted unit in the vector index.
//
// Records are created during ingestion, read during retrieval, and never
// mutated in place; a collection is only ever replaced wholesale.
type Record struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredRecord is a Record annotated with its similarity score.
type ScoredRecord struct {
	Record
	Score float32
}

// Index is the vector index capability.
//
// Implementations must keep one invariant above all: a collection's vector
// dimension is uniform and equals the embedding model's output dimension.
type Index interface {
	// EnsureCollection is idempotent: it creates a cosine-similarity
	// collection if absent. If the collection exists with a mismatched
	// dimension it is dropped and recreated, never silently left
	// inconsistent.
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// Upsert writes records. IDs must be unique within the collection.
	// Either all records land or the operation reports failure and the
	// collection needs another load attempt.
	Upsert(ctx context.Context, name string, records []Record) error

	// Search returns up to limit records by descending cosine similarity to
	// the query vector. Ties are broken deterministically so results are
	// reproducible. Returns ErrCollectionNotFound for absent collections.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error)

	// Drop removes a collection. Dropping an absent collection is not an
	// error.
	Drop(ctx context.Context, name string) error

	// Close releases backend resources.
	Close() error
}

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.Join(ErrInvalidCollectionName, errors.New("collection name cannot be empty"))
	}
	if !collectionNamePattern.MatchString(name) {
		return errors.Join(ErrInvalidCollectionName, errors.New("collection name must match ^[a-z0-9_]{1,64}$"))
	}
	return nil
}

// sortScored orders results by descending score with a deterministic
// tie-break on (page, start offset). Backends return top-k in their own
// order; this keeps ties reproducible for testing.
func sortScored(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Payload.Page != results[j].Payload.Page {
			return results[i].Payload.Page < results[j].Payload.Page
		}
		return results[i].Payload.StartIndex < results[j].Payload.StartIndex
	})
}
