// Package extract turns uploaded documents into ordered per-page text.
package extract

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/raglab/ragd/internal/logging"
)

// Sentinel errors for extraction.
var (
	// ErrUnreadable is returned when the document cannot be parsed at all.
	ErrUnreadable = errors.New("document is unreadable")

	// ErrNoText is returned when no page yields any extractable text.
	ErrNoText = errors.New("document contains no extractable text")
)

// Page is one page of extracted text, in document order.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Text is the cleaned plain text of the page.
	Text string
}

// Extractor produces ordered page text from a document.
//
// Extraction is treated as an external collaborator: implementations may OCR
// embedded images, call out to converters, etc. The only contract is ordered
// per-page text.
type Extractor interface {
	Extract(ctx context.Context, r io.ReaderAt, size int64) ([]Page, error)
}

// PDFExtractor extracts plain text from PDF files page by page.
type PDFExtractor struct {
	logger *logging.Logger
}

// NewPDFExtractor creates a PDF text extractor.
func NewPDFExtractor(logger *logging.Logger) *PDFExtractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PDFExtractor{logger: logger.Named("extract")}
}

// Extract reads the PDF and returns one Page per non-empty source page.
//
// Pages that fail text extraction are logged and skipped rather than failing
// the whole document. Returns ErrUnreadable if the PDF cannot be opened and
// ErrNoText if every page came back empty.
func (e *PDFExtractor) Extract(ctx context.Context, r io.ReaderAt, size int64) ([]Page, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, errors.Join(ErrUnreadable, err)
	}

	pageCount := reader.NumPage()
	pages := make([]Page, 0, pageCount)

	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn(ctx, "failed to extract text from page",
				zap.Int("page", i),
				zap.Error(err),
			)
			continue
		}

		text = cleanText(text)
		if text == "" {
			continue
		}

		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, ErrNoText
	}

	e.logger.Debug(ctx, "extracted document",
		zap.Int("source_pages", pageCount),
		zap.Int("text_pages", len(pages)),
	)

	return pages, nil
}

// cleanText normalizes whitespace without disturbing paragraph breaks.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")

	// Collapse runs of three or more newlines to a paragraph break.
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(s)
}

var _ Extractor = (*PDFExtractor)(nil)
