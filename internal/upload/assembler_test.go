package upload_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragd/internal/upload"
)

const testFilename = "9e107d9d372bb6826bd81d3542a419d6.pdf" // md5-length hex

func newAssembler(t *testing.T) (*upload.Assembler, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := upload.NewAssembler(upload.Config{Dir: dir}, nil)
	require.NoError(t, err)
	return a, dir
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "md5 hash", input: testFilename, wantError: false},
		{
			name:      "sha256 hash",
			input:     strings.Repeat("ab", 32) + ".pdf",
			wantError: false,
		},
		{name: "uppercase hex", input: "9E107D9D372BB6826BD81D3542A419D6.pdf", wantError: true},
		{name: "too short", input: "abc123.pdf", wantError: true},
		{name: "wrong extension", input: "9e107d9d372bb6826bd81d3542a419d6.txt", wantError: true},
		{name: "no extension", input: "9e107d9d372bb6826bd81d3542a419d6", wantError: true},
		{name: "path traversal", input: "../../etc/passwd.pdf", wantError: true},
		{name: "empty", input: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := upload.ValidateFilename(tt.input)
			if tt.wantError {
				assert.ErrorIs(t, err, upload.ErrInvalidFilename)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAppendChunk_SingleChunk(t *testing.T) {
	a, dir := newAssembler(t)

	result, err := a.AppendChunk(context.Background(), testFilename, 0, 1, strings.NewReader("%PDF-data"))
	require.NoError(t, err)

	assert.True(t, result.Complete)
	assert.Equal(t, int64(9), result.Size)
	assert.Equal(t, filepath.Join(dir, testFilename), result.Path)

	content, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-data", string(content))
}

func TestAppendChunk_MultipleChunks(t *testing.T) {
	a, _ := newAssembler(t)
	ctx := context.Background()

	r1, err := a.AppendChunk(ctx, testFilename, 0, 3, strings.NewReader("aaa"))
	require.NoError(t, err)
	assert.False(t, r1.Complete)

	r2, err := a.AppendChunk(ctx, testFilename, 1, 3, strings.NewReader("bbb"))
	require.NoError(t, err)
	assert.False(t, r2.Complete)
	assert.Equal(t, int64(6), r2.Size)

	r3, err := a.AppendChunk(ctx, testFilename, 2, 3, strings.NewReader("ccc"))
	require.NoError(t, err)
	assert.True(t, r3.Complete)
	assert.Equal(t, int64(9), r3.Size)

	f, err := a.Open(testFilename)
	require.NoError(t, err)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(content))
}

func TestAppendChunk_ChunkZeroRestartsFile(t *testing.T) {
	a, _ := newAssembler(t)
	ctx := context.Background()

	_, err := a.AppendChunk(ctx, testFilename, 0, 2, strings.NewReader("old-partial"))
	require.NoError(t, err)

	// Client retries from the start: previous partial content is discarded.
	result, err := a.AppendChunk(ctx, testFilename, 0, 2, strings.NewReader("new"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Size)
}

func TestAppendChunk_Validation(t *testing.T) {
	a, _ := newAssembler(t)
	ctx := context.Background()

	_, err := a.AppendChunk(ctx, "bad-name.pdf", 0, 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, upload.ErrInvalidFilename)

	_, err = a.AppendChunk(ctx, testFilename, 1, 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, upload.ErrInvalidChunk)

	_, err = a.AppendChunk(ctx, testFilename, -1, 2, strings.NewReader("x"))
	assert.ErrorIs(t, err, upload.ErrInvalidChunk)

	_, err = a.AppendChunk(ctx, testFilename, 0, 0, strings.NewReader("x"))
	assert.ErrorIs(t, err, upload.ErrInvalidChunk)
}

func TestAppendChunk_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	a, err := upload.NewAssembler(upload.Config{Dir: dir, MaxChunkBytes: 4}, nil)
	require.NoError(t, err)

	_, err = a.AppendChunk(context.Background(), testFilename, 0, 1, strings.NewReader("12345"))
	assert.ErrorIs(t, err, upload.ErrChunkTooLarge)

	_, err = a.AppendChunk(context.Background(), testFilename, 0, 1, strings.NewReader("1234"))
	assert.NoError(t, err)
}

func TestOpen_InvalidFilename(t *testing.T) {
	a, _ := newAssembler(t)
	_, err := a.Open("../sneaky.pdf")
	assert.ErrorIs(t, err, upload.ErrInvalidFilename)
}

func TestNewAssembler_RequiresDir(t *testing.T) {
	_, err := upload.NewAssembler(upload.Config{}, nil)
	assert.Error(t, err)
}
