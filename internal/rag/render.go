// Package rag renders retrieved chunks into prompt context.
//
// The subpackages hold the moving parts: store implements the keyword,
// semantic and hybrid indexes; index loads chunk files into an index and
// keeps it current as the files change.
package rag

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// DefaultEmptyContextMessage is rendered when no chunk survives.
const DefaultEmptyContextMessage = "No context available."

var placeholderPattern = regexp.MustCompile(`\[\[(?:CODE_BLOCK|CODE_SNIPPET)_(\d+)\]\]`)

// RenderChunks restores code placeholders in each result and joins the texts
// with blank lines. Placeholders consume the chunk's code blocks in order of
// appearance; once the blocks run out the placeholder is left as is. Chunks
// with no id or no text are skipped. When nothing is left, emptyMessage is
// returned.
func RenderChunks(results []models.SearchResult, emptyMessage string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if emptyMessage == "" {
		emptyMessage = DefaultEmptyContextMessage
	}

	texts := make([]string, 0, len(results))
	for _, res := range results {
		chunk := res.Chunk
		if chunk == nil || chunk.ID == "" {
			logger.Warn("retrieved chunk has no id, skipping")
			continue
		}
		if chunk.Text == "" {
			logger.Warn("retrieved chunk has no text", "chunk_id", chunk.ID)
			continue
		}
		texts = append(texts, RestoreCode(chunk, logger))
	}
	if len(texts) == 0 {
		return emptyMessage
	}
	return strings.Join(texts, "\n\n")
}

// RestoreCode returns the chunk text with its code placeholders replaced.
func RestoreCode(chunk *models.Chunk, logger *slog.Logger) string {
	next := 0
	return placeholderPattern.ReplaceAllStringFunc(chunk.Text, func(placeholder string) string {
		if next >= len(chunk.CodeBlocks) {
			if logger != nil {
				logger.Warn("code block missing for placeholder",
					"chunk_id", chunk.ID,
					"placeholder", placeholder,
				)
			}
			return placeholder
		}
		code := chunk.CodeBlocks[next]
		next++
		return code
	})
}
