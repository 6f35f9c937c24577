package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRerankReply(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		candidates int
		keep       int
		want       []int
		wantOK     bool
	}{
		{name: "simple list", reply: "2, 7, 1", candidates: 10, keep: 3, want: []int{2, 7, 1}, wantOK: true},
		{name: "no spaces", reply: "3,1,2", candidates: 5, keep: 3, want: []int{3, 1, 2}, wantOK: true},
		{name: "trailing period", reply: "2, 1.", candidates: 5, keep: 3, want: []int{2, 1}, wantOK: true},
		{name: "fewer than keep", reply: "4", candidates: 5, keep: 3, want: []int{4}, wantOK: true},
		{name: "extra picks truncated", reply: "1, 2, 3, 4, 5", candidates: 5, keep: 3, want: []int{1, 2, 3}, wantOK: true},
		{name: "empty", reply: "", candidates: 5, keep: 3, wantOK: false},
		{name: "whitespace only", reply: "   ", candidates: 5, keep: 3, wantOK: false},
		{name: "prose", reply: "passages two and one", candidates: 5, keep: 3, wantOK: false},
		{name: "zero index", reply: "0, 1", candidates: 5, keep: 3, wantOK: false},
		{name: "out of range", reply: "1, 6", candidates: 5, keep: 3, wantOK: false},
		{name: "negative", reply: "-1", candidates: 5, keep: 3, wantOK: false},
		{name: "duplicate", reply: "2, 2", candidates: 5, keep: 3, wantOK: false},
		{name: "float", reply: "1.5", candidates: 5, keep: 3, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRerankReply(tt.reply, tt.candidates, tt.keep)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseInsights(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		want      Insights
		wantError bool
	}{
		{
			name:  "plain json",
			reply: `{"keywords": ["a", "b"], "topics": ["t"], "intent": "find"}`,
			want:  Insights{Keywords: []string{"a", "b"}, Topics: []string{"t"}, Intent: "find"},
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"keywords\": [\"a\"], \"topics\": [], \"intent\": \"x\"}\n```",
			want:  Insights{Keywords: []string{"a"}, Topics: []string{}, Intent: "x"},
		},
		{
			name:  "bare fence",
			reply: "```\n{\"keywords\": [], \"topics\": [], \"intent\": \"x\"}\n```",
			want:  Insights{Keywords: []string{}, Topics: []string{}, Intent: "x"},
		},
		{
			name:  "missing fields get defaults",
			reply: `{}`,
			want:  Insights{Keywords: []string{}, Topics: []string{}, Intent: "unknown"},
		},
		{name: "prose", reply: "these are the keywords: a, b", wantError: true},
		{name: "empty", reply: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInsights(tt.reply)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnrichQuery(t *testing.T) {
	tests := []struct {
		name     string
		insights Insights
		want     string
	}{
		{
			name:     "all sections",
			insights: Insights{Keywords: []string{"a", "b"}, Topics: []string{"t"}, Intent: "find causes"},
			want:     "q?. Keywords: a, b. Intent: find causes. Topics: t",
		},
		{
			name:     "defaults add nothing",
			insights: Insights{Keywords: []string{}, Topics: []string{}, Intent: "unknown"},
			want:     "q?",
		},
		{
			name:     "keywords only",
			insights: Insights{Keywords: []string{"a"}},
			want:     "q?. Keywords: a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, enrichQuery("q?", tt.insights))
		})
	}
}
