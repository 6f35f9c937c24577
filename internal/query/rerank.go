package query

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// rerank over-fetches candidates, asks the generative model to pick the most
// relevant ones, and falls back to similarity order when the selection is
// unusable. The fallback is mandatory: a malformed model reply degrades the
// ranking, never the request.
func (s *Service) rerank(ctx context.Context, question string) ([]Context, error) {
	candidates, err := s.retrieve(ctx, question, s.config.RerankFetchK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	keep := s.config.RerankKeepK
	if keep > len(candidates) {
		keep = len(candidates)
	}

	reply, err := s.model.Generate(ctx, rerankPrompt(question, candidates, keep))
	if err != nil {
		s.logger.Warn(ctx, "rerank selection failed, using similarity order",
			zap.Error(err),
		)
		return candidates[:keep], nil
	}

	picks, ok := parseRerankReply(reply, len(candidates), keep)
	if !ok {
		s.logger.Warn(ctx, "unparseable rerank reply, using similarity order",
			zap.String("reply", truncate(reply, 200)),
		)
		return candidates[:keep], nil
	}

	selected := make([]Context, 0, len(picks))
	for _, idx := range picks {
		selected = append(selected, candidates[idx-1])
	}
	return selected, nil
}

// parseRerankReply parses a comma-separated list of 1-based candidate
// numbers. Strict: every token must be an integer within range, duplicates
// are rejected, and at least one pick is required. Returns ok=false on any
// violation so the caller falls back.
func parseRerankReply(reply string, candidateCount, keep int) ([]int, bool) {
	reply = strings.TrimSpace(reply)
	reply = strings.Trim(reply, ".")
	if reply == "" {
		return nil, false
	}

	var picks []int
	seen := make(map[int]bool)
	for _, token := range strings.Split(reply, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return nil, false
		}
		if n < 1 || n > candidateCount {
			return nil, false
		}
		if seen[n] {
			return nil, false
		}
		seen[n] = true
		picks = append(picks, n)
		if len(picks) == keep {
			break
		}
	}

	if len(picks) == 0 {
		return nil, false
	}
	return picks, true
}

// truncate shortens s for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
