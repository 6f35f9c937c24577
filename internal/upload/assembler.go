// Package upload reassembles chunked file uploads on disk.
//
// Clients slice a file into byte-range chunks and post them in order. The
// filename is the file's content hash, which makes uploads idempotent:
// re-sending chunk 0 restarts the file instead of corrupting it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/raglab/ragd/internal/logging"
)

// Sentinel errors.
var (
	// ErrInvalidFilename indicates a filename that is not a hex content hash
	// with a .pdf extension.
	ErrInvalidFilename = errors.New("filename must be a hex content hash with .pdf extension")

	// ErrInvalidChunk indicates out-of-range chunk numbering.
	ErrInvalidChunk = errors.New("invalid chunk numbering")

	// ErrChunkTooLarge indicates a chunk above the configured size limit.
	ErrChunkTooLarge = errors.New("chunk exceeds size limit")
)

// filenamePattern accepts md5 through sha-256 hex digests with a .pdf
// extension. Anchored, so path traversal cannot pass.
var filenamePattern = regexp.MustCompile(`^[0-9a-f]{32,64}\.pdf$`)

// ValidateFilename checks that name is a content-hash PDF filename.
func ValidateFilename(name string) error {
	if !filenamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// Result describes the state of a file after a chunk lands.
type Result struct {
	// Filename is the validated stored filename.
	Filename string

	// Path is the file's location on disk.
	Path string

	// Size is the file's current size in bytes.
	Size int64

	// Complete is true once the final chunk has been appended.
	Complete bool
}

// Config holds assembler settings.
type Config struct {
	// Dir is the directory where files are assembled.
	Dir string

	// MaxChunkBytes bounds a single chunk. Zero means no limit.
	MaxChunkBytes int64
}

// Assembler appends upload chunks to their file under Dir.
type Assembler struct {
	config Config
	logger *logging.Logger

	// mu guards the per-file locks map.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAssembler creates the upload directory if needed.
func NewAssembler(config Config, logger *logging.Logger) (*Assembler, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("upload directory required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Assembler{
		config: config,
		logger: logger.Named("upload"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// fileLock returns the mutex for one filename, creating it on first use.
func (a *Assembler) fileLock(name string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[name] = lock
	}
	return lock
}

// AppendChunk writes one chunk of the named file.
//
// Chunk 0 truncates any previous partial file; later chunks append. Chunks
// for the same file are serialized, so concurrent clients cannot interleave
// writes. Complete is set when chunkNumber is the last chunk.
func (a *Assembler) AppendChunk(ctx context.Context, name string, chunkNumber, totalChunks int, chunk io.Reader) (Result, error) {
	if err := ValidateFilename(name); err != nil {
		return Result{}, err
	}
	if totalChunks < 1 || chunkNumber < 0 || chunkNumber >= totalChunks {
		return Result{}, fmt.Errorf("%w: chunk %d of %d", ErrInvalidChunk, chunkNumber, totalChunks)
	}

	lock := a.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(a.config.Dir, name)

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if chunkNumber == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	src := chunk
	if a.config.MaxChunkBytes > 0 {
		src = io.LimitReader(chunk, a.config.MaxChunkBytes+1)
	}
	written, err := io.Copy(f, src)
	if err != nil {
		return Result{}, fmt.Errorf("writing chunk: %w", err)
	}
	if a.config.MaxChunkBytes > 0 && written > a.config.MaxChunkBytes {
		return Result{}, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, written)
	}

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}

	result := Result{
		Filename: name,
		Path:     path,
		Size:     info.Size(),
		Complete: chunkNumber == totalChunks-1,
	}

	a.logger.Debug(ctx, "chunk written",
		zap.String("filename", name),
		zap.Int("chunk", chunkNumber),
		zap.Int("total", totalChunks),
		zap.Int64("size", result.Size),
	)
	return result, nil
}

// Open opens an assembled file for reading.
func (a *Assembler) Open(name string) (*os.File, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(a.config.Dir, name))
}
