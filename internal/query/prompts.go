package query

import (
	"fmt"
	"strings"
)

// synthesisPrompt builds the answer-generation prompt. Contexts are labeled
// with their source page so answers can cite them.
func synthesisPrompt(question string, contexts []Context) string {
	var b strings.Builder
	for i, c := range contexts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s p.%d] %s", c.Source, c.Page, c.Text)
	}

	return fmt.Sprintf(`You are a helpful assistant answering questions about a document.

Answer the question using ONLY the context below. If the context does not contain the answer, say "I don't know based on the provided document." Do not use outside knowledge.

Context:
%s

Question: %s

Answer:`, b.String(), question)
}

// rerankPrompt builds the candidate-selection prompt. Candidates are numbered
// from 1; the model must answer with numbers only.
func rerankPrompt(question string, candidates []Context, keep int) string {
	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, c.Text)
	}

	return fmt.Sprintf(`You are ranking text passages by relevance to a question.

Question: %s

Passages:
%s

Reply with the numbers of the %d most relevant passages, most relevant first, as a comma-separated list (for example: 2, 7, 1). Reply with numbers only, nothing else.`, question, b.String(), keep)
}

// insightsPrompt asks the model to decompose the question into structured
// search insights.
func insightsPrompt(question string) string {
	return fmt.Sprintf(`Analyze the question below and extract search insights from it.

Question: %s

Respond with a single JSON object, no markdown, no commentary, exactly this shape:
{"keywords": ["..."], "topics": ["..."], "intent": "..."}

- keywords: the most important search terms in the question
- topics: the broader subjects the question touches
- intent: one short phrase describing what the asker wants`, question)
}
