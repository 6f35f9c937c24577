package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Insights is the structured decomposition of a question used to build an
// enriched search query.
type Insights struct {
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
	Intent   string   `json:"intent"`
}

// defaultInsights is used when the model never produces parseable JSON.
func defaultInsights() Insights {
	return Insights{Keywords: []string{}, Topics: []string{}, Intent: "unknown"}
}

// selfQuery rewrites the question into an enriched query before retrieval.
// The enriched query is returned so callers can surface it.
func (s *Service) selfQuery(ctx context.Context, question string) ([]Context, string, error) {
	insights := s.extractInsights(ctx, question)
	enriched := enrichQuery(question, insights)

	contexts, err := s.retrieve(ctx, enriched, s.config.SelfQueryTopK)
	if err != nil {
		return nil, "", err
	}
	return contexts, enriched, nil
}

// extractInsights asks the model to decompose the question, retrying on
// unparseable output. Once retries are exhausted it returns defaults; insight
// extraction never fails the query.
func (s *Service) extractInsights(ctx context.Context, question string) Insights {
	for attempt := 1; attempt <= s.config.InsightRetries; attempt++ {
		reply, err := s.model.Generate(ctx, insightsPrompt(question))
		if err != nil {
			s.logger.Warn(ctx, "insight extraction call failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		insights, err := parseInsights(reply)
		if err != nil {
			s.logger.Warn(ctx, "unparseable insights reply",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		return insights
	}

	s.logger.Warn(ctx, "insight extraction exhausted retries, using defaults",
		zap.Int("retries", s.config.InsightRetries),
	)
	return defaultInsights()
}

// parseInsights parses the model's JSON reply, tolerating markdown code
// fences around the object.
func parseInsights(reply string) (Insights, error) {
	cleaned := stripCodeFence(reply)

	var insights Insights
	if err := json.Unmarshal([]byte(cleaned), &insights); err != nil {
		return Insights{}, fmt.Errorf("parsing insights: %w", err)
	}
	if insights.Keywords == nil {
		insights.Keywords = []string{}
	}
	if insights.Topics == nil {
		insights.Topics = []string{}
	}
	if insights.Intent == "" {
		insights.Intent = "unknown"
	}
	return insights, nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// enrichQuery appends the extracted insights to the original question.
// Empty insight sections are omitted.
func enrichQuery(question string, insights Insights) string {
	var b strings.Builder
	b.WriteString(question)
	if len(insights.Keywords) > 0 {
		b.WriteString(". Keywords: ")
		b.WriteString(strings.Join(insights.Keywords, ", "))
	}
	if insights.Intent != "" && insights.Intent != "unknown" {
		b.WriteString(". Intent: ")
		b.WriteString(insights.Intent)
	}
	if len(insights.Topics) > 0 {
		b.WriteString(". Topics: ")
		b.WriteString(strings.Join(insights.Topics, ", "))
	}
	return b.String()
}
