// Package chunker splits extracted page text into overlapping chunks
// sized for embedding.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/raglab/ragd/internal/extract"
)

// ErrInvalidParams indicates bad chunk size or overlap values.
var ErrInvalidParams = errors.New("invalid chunker parameters")

// Chunk is a contiguous span of a document's extracted text.
//
// Chunks exist only until they are embedded and written into the index; the
// index record payload is the durable form.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// Ordinal is the 0-based position of the chunk within the document.
	// Monotonic across pages.
	Ordinal int

	// StartOffset is the character offset of the chunk within its page text.
	StartOffset int

	// Page is the 1-based source page number. Chunks never span pages.
	Page int

	// Source is the originating filename.
	Source string
}

// Chunker splits text into overlapping segments, preferring natural
// breakpoints: paragraph, then line, then whitespace, then hard cut.
//
// Sizes are measured in characters. Without a model tokenizer this is a
// documented precision trade-off: boundaries land within a few tokens of the
// configured budget rather than exactly on it.
type Chunker struct {
	splitter     textsplitter.RecursiveCharacter
	chunkSize    int
	chunkOverlap int
}

// New creates a Chunker with the given chunk size and overlap, both in
// characters. Overlap must be smaller than the chunk size.
func New(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidParams, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size), got %d", ErrInvalidParams, chunkOverlap)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)

	return &Chunker{
		splitter:     splitter,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// ChunkSize returns the configured maximum chunk size in characters.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap returns the configured overlap in characters.
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// SplitPage splits one page's text into chunks. firstOrdinal is the ordinal
// to assign to the first chunk, so callers can keep ordinals monotonic across
// a whole document.
//
// Text with no natural breakpoints at all falls back to hard cuts at the
// configured size; the page text is always fully covered.
func (c *Chunker) SplitPage(page extract.Page, source string, firstOrdinal int) ([]Chunk, error) {
	text := page.Text
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting page %d: %w", page.Number, err)
	}

	chunks := make([]Chunk, 0, len(parts))
	cursor := 0
	for _, part := range parts {
		if part == "" {
			continue
		}
		offset := locate(text, part, cursor)
		chunks = append(chunks, Chunk{
			Text:        part,
			Ordinal:     firstOrdinal + len(chunks),
			StartOffset: offset,
			Page:        page.Number,
			Source:      source,
		})
		// Advance past the non-overlapping prefix of this chunk so the next
		// search starts inside the current chunk's overlap region.
		advance := len(part) - c.chunkOverlap
		if advance < 1 {
			advance = 1
		}
		cursor = offset + advance
		if cursor > len(text) {
			cursor = len(text)
		}
	}

	return chunks, nil
}

// locate finds the start offset of part within text at or after from.
// The splitter trims whitespace when joining, so an exact match can fail;
// fall back to matching a prefix of the part, then to the cursor itself.
func locate(text, part string, from int) int {
	if from > len(text) {
		from = len(text)
	}
	if idx := strings.Index(text[from:], part); idx >= 0 {
		return from + idx
	}

	prefix := part
	if len(prefix) > 40 {
		prefix = prefix[:40]
	}
	if idx := strings.Index(text[from:], prefix); idx >= 0 {
		return from + idx
	}

	return from
}
