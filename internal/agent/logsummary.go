package agent

import (
	"context"
	"strings"

	"github.com/haasonsaas/chatcore/internal/buildlog"
	"github.com/haasonsaas/chatcore/internal/llm"
)

// SummarizeLog turns a build log into a one-line search query describing
// the failure. The log should already be sanitized. The model sees the
// extracted error lines when there are any, the whole log otherwise. When
// the model is unavailable or returns nothing usable, the heuristic query
// from the log analysis is used; the result is empty only when neither
// produces anything.
func (p *Pipeline) SummarizeLog(ctx context.Context, log string) (string, buildlog.Analysis) {
	analysis := buildlog.Analyze(log)

	heuristic := ""
	if len(analysis.SearchQueries) > 0 {
		heuristic = analysis.SearchQueries[0]
	}
	if !p.gen.Available() {
		return heuristic, analysis
	}

	excerpt := analysis.Excerpt
	if excerpt == "" {
		excerpt = buildlog.Truncate(log, buildlog.DefaultContextTokens*4)
	}

	out, err := p.gen.Generate(llm.WithStage(ctx, "log_summary"), logSummaryPrompt(excerpt, analysis.ErrorType), p.cfg.Budgets.LogSummary)
	query := firstLine(out)
	if err != nil || query == "" {
		p.malformed(ctx, "log_summary", ParseMalformed, err, out)
		return heuristic, analysis
	}
	return query, analysis
}

func firstLine(s string) string {
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		line = strings.Trim(strings.TrimSpace(line), "`\"'")
		if line != "" {
			return line
		}
	}
	return ""
}
