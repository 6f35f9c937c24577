package chunker_test

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragd/internal/chunker"
	"github.com/raglab/ragd/internal/extract"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		overlap   int
		wantError bool
	}{
		{name: "valid", size: 500, overlap: 100, wantError: false},
		{name: "zero overlap", size: 100, overlap: 0, wantError: false},
		{name: "zero size", size: 0, overlap: 0, wantError: true},
		{name: "negative overlap", size: 100, overlap: -1, wantError: true},
		{name: "overlap equals size", size: 100, overlap: 100, wantError: true},
		{name: "overlap above size", size: 100, overlap: 150, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := chunker.New(tt.size, tt.overlap)
			if tt.wantError {
				assert.ErrorIs(t, err, chunker.ErrInvalidParams)
				assert.Nil(t, c)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.size, c.ChunkSize())
				assert.Equal(t, tt.overlap, c.ChunkOverlap())
			}
		})
	}
}

func TestSplitPage_CoversText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "repeated paragraphs",
			text: strings.TrimSpace(strings.Repeat("Tropical forests store vast amounts of carbon in soil and biomass.\n\n", 6)),
		},
		{
			name: "long run without breakpoints",
			text: strings.Repeat("abcdefg", 62) + "hij",
		},
		{
			name: "page shorter than one chunk",
			text: "A single short sentence.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := chunker.New(80, 20)
			require.NoError(t, err)

			chunks, err := c.SplitPage(extract.Page{Number: 1, Text: tt.text}, "report.pdf", 0)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			// Mark the byte range each chunk claims, then check that no
			// non-whitespace byte of the page fell through the cracks.
			covered := make([]bool, len(tt.text))
			for i, chunk := range chunks {
				require.NotEmpty(t, chunk.Text)
				require.LessOrEqual(t, len(chunk.Text), 80, "chunk %d too large", i)
				require.Equal(t, chunk.Text, tt.text[chunk.StartOffset:chunk.StartOffset+len(chunk.Text)], "chunk %d offset mismatch", i)
				assert.Equal(t, 1, chunk.Page)
				assert.Equal(t, "report.pdf", chunk.Source)
				for pos := chunk.StartOffset; pos < chunk.StartOffset+len(chunk.Text); pos++ {
					covered[pos] = true
				}
			}

			for pos, ok := range covered {
				if unicode.IsSpace(rune(tt.text[pos])) {
					continue
				}
				assert.True(t, ok, "byte %d (%q) not covered by any chunk", pos, tt.text[pos])
			}
		})
	}
}

func TestSplitPage_OffsetsPointIntoPage(t *testing.T) {
	c, err := chunker.New(60, 10)
	require.NoError(t, err)

	text := "First paragraph about mangroves.\n\nSecond paragraph about peatlands.\n\nThird paragraph about savannas."
	chunks, err := c.SplitPage(extract.Page{Number: 3, Text: text}, "doc.pdf", 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	prev := -1
	for _, chunk := range chunks {
		got := text[chunk.StartOffset : chunk.StartOffset+len(chunk.Text)]
		assert.Equal(t, chunk.Text, got)
		assert.Greater(t, chunk.StartOffset, prev, "offsets must advance")
		prev = chunk.StartOffset
	}
}

func TestSplitPage_OrdinalsMonotonicAcrossPages(t *testing.T) {
	c, err := chunker.New(40, 5)
	require.NoError(t, err)

	pages := []extract.Page{
		{Number: 1, Text: "Page one has a fair amount of text that needs splitting into several chunks."},
		{Number: 2, Text: "Page two also has enough text for more than one chunk to come out of it."},
	}

	var all []chunker.Chunk
	for _, page := range pages {
		chunks, err := c.SplitPage(page, "doc.pdf", len(all))
		require.NoError(t, err)
		all = append(all, chunks...)
	}

	require.Greater(t, len(all), 2)
	for i, chunk := range all {
		assert.Equal(t, i, chunk.Ordinal)
	}
}

func TestSplitPage_EmptyPage(t *testing.T) {
	c, err := chunker.New(100, 10)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\n"} {
		chunks, err := c.SplitPage(extract.Page{Number: 1, Text: text}, "doc.pdf", 0)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSplitPage_NoNaturalBreakpoints(t *testing.T) {
	c, err := chunker.New(50, 0)
	require.NoError(t, err)

	// One long token, no whitespace at all.
	text := strings.Repeat("x", 180)
	chunks, err := c.SplitPage(extract.Page{Number: 1, Text: text}, "doc.pdf", 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	total := 0
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), 50)
		total += len(chunk.Text)
	}
	assert.Equal(t, len(text), total, "hard cuts must cover the whole page")
}
