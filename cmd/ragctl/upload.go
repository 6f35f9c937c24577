package main

import (
	"bytes"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// uploadChunkSize is the byte size of one upload chunk.
const uploadChunkSize = 1024 * 1024

// uploadCmd uploads a PDF in chunks
var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF to ragd for indexing",
	Long: `Upload a PDF file to the ragd server in chunks.

The file is stored under its md5 content hash, so re-uploading the same file
is idempotent. The final chunk triggers indexing in the background; use
"ragctl status" to follow progress.

Examples:
  ragctl upload report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

// UploadChunkResponse matches internal/http/server.go UploadChunkResponse
type UploadChunkResponse struct {
	Filename       string `json:"filename"`
	ChunkNumber    int    `json:"chunk_number"`
	SizeBytes      int64  `json:"size_bytes"`
	Complete       bool   `json:"complete"`
	IngestStarted  bool   `json:"ingest_started"`
	IngestRejected string `json:"ingest_rejected,omitempty"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	filename := fmt.Sprintf("%x.pdf", md5.Sum(data))
	totalChunks := (len(data) + uploadChunkSize - 1) / uploadChunkSize
	if totalChunks == 0 {
		totalChunks = 1
	}

	client := &http.Client{Timeout: 60 * time.Second}

	var last UploadChunkResponse
	for i := 0; i < totalChunks; i++ {
		start := i * uploadChunkSize
		end := start + uploadChunkSize
		if end > len(data) {
			end = len(data)
		}

		last, err = postChunk(client, filename, i, totalChunks, data[start:end])
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, totalChunks, err)
		}
		fmt.Printf("uploaded chunk %d/%d (%d bytes on server)\n", i+1, totalChunks, last.SizeBytes)
	}

	fmt.Printf("document id: %s\n", filename[:len(filename)-len(".pdf")])
	if last.IngestStarted {
		fmt.Println("indexing started")
	} else if last.IngestRejected != "" {
		return fmt.Errorf("indexing rejected: %s", last.IngestRejected)
	}
	return nil
}

// postChunk sends one multipart chunk to the server.
func postChunk(client *http.Client, filename string, chunkNumber, totalChunks int, chunk []byte) (UploadChunkResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file_chunk", filename)
	if err != nil {
		return UploadChunkResponse{}, err
	}
	if _, err := part.Write(chunk); err != nil {
		return UploadChunkResponse{}, err
	}
	_ = writer.WriteField("filename", filename)
	_ = writer.WriteField("chunk_number", strconv.Itoa(chunkNumber))
	_ = writer.WriteField("total_chunks", strconv.Itoa(totalChunks))
	if err := writer.Close(); err != nil {
		return UploadChunkResponse{}, err
	}

	resp, err := client.Post(serverURL+"/upload_chunk", writer.FormDataContentType(), &body)
	if err != nil {
		return UploadChunkResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadChunkResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return UploadChunkResponse{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var result UploadChunkResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return UploadChunkResponse{}, err
	}
	return result, nil
}
