package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var queryStrategy string

// queryCmd asks the server a question
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about the indexed document",
	Long: `Ask a question about the indexed document.

Strategies:
  vanilla     embed the question as-is and use the closest chunks (default)
  rerank      over-fetch candidates and let the model pick the best ones
  self_query  rewrite the question into an enriched search query first

Examples:
  ragctl query "What drives deforestation?"
  ragctl query --strategy rerank "What drives deforestation?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryStrategy, "strategy", "vanilla", "retrieval strategy: vanilla, rerank or self_query")
}

// QueryRequest matches internal/http/server.go QueryRequest
type QueryRequest struct {
	Question string `json:"question"`
	Strategy string `json:"strategy"`
}

// QueryResponse mirrors internal/query.Response
type QueryResponse struct {
	Answer         string `json:"answer"`
	EffectiveQuery string `json:"effective_query,omitempty"`
	ElapsedMS      int64  `json:"elapsed_ms"`
	Contexts       []struct {
		Text   string  `json:"text"`
		Page   int     `json:"page_number"`
		Source string  `json:"source_filename"`
		Score  float32 `json:"score"`
	} `json:"contexts"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	payload, err := json.Marshal(QueryRequest{
		Question: args[0],
		Strategy: queryStrategy,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var result QueryResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	fmt.Println(result.Answer)
	if result.EffectiveQuery != "" {
		fmt.Printf("\neffective query: %s\n", result.EffectiveQuery)
	}
	fmt.Printf("\nsources (%dms):\n", result.ElapsedMS)
	for _, c := range result.Contexts {
		fmt.Printf("  %s p.%d (score %.3f)\n", c.Source, c.Page, c.Score)
	}
	return nil
}
