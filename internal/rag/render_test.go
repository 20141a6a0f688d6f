package rag

import (
	"testing"

	"github.com/haasonsaas/chatcore/pkg/models"
)

func result(id, text string, code ...string) models.SearchResult {
	return models.SearchResult{Chunk: &models.Chunk{ID: id, Text: text, CodeBlocks: code}}
}

func TestRenderChunks(t *testing.T) {
	tests := []struct {
		name    string
		results []models.SearchResult
		empty   string
		want    string
	}{
		{
			name:    "no results",
			results: nil,
			want:    "No context available.",
		},
		{
			name:    "custom empty message",
			results: []models.SearchResult{result("", "orphan")},
			empty:   "nothing found",
			want:    "nothing found",
		},
		{
			name: "placeholders replaced in order",
			results: []models.SearchResult{
				result("a", "run [[CODE_BLOCK_1]] then [[CODE_SNIPPET_0]]", "mvn verify", "git push"),
			},
			want: "run mvn verify then git push",
		},
		{
			name: "missing block keeps placeholder",
			results: []models.SearchResult{
				result("a", "[[CODE_BLOCK_0]] and [[CODE_BLOCK_1]]", "only"),
			},
			want: "only and [[CODE_BLOCK_1]]",
		},
		{
			name: "skips chunks without id or text",
			results: []models.SearchResult{
				result("a", "first"),
				result("", "no id"),
				result("b", ""),
				{Chunk: nil},
				result("c", "second"),
			},
			want: "first\n\nsecond",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderChunks(tt.results, tt.empty, nil); got != tt.want {
				t.Errorf("RenderChunks() = %q, want %q", got, tt.want)
			}
		})
	}
}
