package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/chatcore/internal/rag/store"
	"github.com/haasonsaas/chatcore/pkg/models"
)

type recordingIndex struct {
	queries []store.Query
	results []models.SearchResult
	err     error
}

func (r *recordingIndex) Upsert(context.Context, []*models.Chunk) error { return nil }
func (r *recordingIndex) Search(_ context.Context, q store.Query) ([]models.SearchResult, error) {
	r.queries = append(r.queries, q)
	return r.results, r.err
}
func (r *recordingIndex) Count(context.Context) (int, error) { return len(r.results), nil }
func (r *recordingIndex) Close() error                       { return nil }

func toolByName(t *testing.T, tools []Tool, name string) Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestSearchTool_Invoke(t *testing.T) {
	idx := &recordingIndex{results: []models.SearchResult{
		{Chunk: &models.Chunk{ID: "c1", Text: "use [[CODE_BLOCK_0]]", CodeBlocks: []string{"checkout scm"}}},
	}}
	tools := NewSearchTools(idx, SearchConfig{TopK: 3, TopKByTool: map[string]int{SearchStackOverflowThread: 7}}, nil)

	got, err := toolByName(t, tools, SearchPluginDocs).Invoke(context.Background(), map[string]any{
		"query": "configure git", "keywords": "git scm", "plugin_name": "git",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "use checkout scm" {
		t.Errorf("Invoke() = %q", got)
	}
	q := idx.queries[0]
	if q.Source != models.SourcePluginDocs || q.PluginName != "git" || q.Keywords != "git scm" || q.TopK != 3 {
		t.Errorf("query = %+v", q)
	}

	if _, err := toolByName(t, tools, SearchStackOverflowThread).Invoke(context.Background(), map[string]any{"query": "websocket error"}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	q = idx.queries[1]
	if q.Keywords != "websocket error" || q.Source != models.SourceStackOverflow || q.TopK != 7 {
		t.Errorf("stackoverflow query = %+v", q)
	}
}

func TestSearchTool_BlankQuery(t *testing.T) {
	idx := &recordingIndex{}
	tool := toolByName(t, NewSearchTools(idx, SearchConfig{}, nil), SearchStackOverflowThread)
	got, err := tool.Invoke(context.Background(), map[string]any{"query": "   "})
	if err != nil || got != "No context available." {
		t.Fatalf("Invoke() = %q, %v", got, err)
	}
	if len(idx.queries) != 0 {
		t.Error("blank query reached the index")
	}
}

func TestSearchTool_ConfiguredSource(t *testing.T) {
	idx := &recordingIndex{}
	tools := NewSearchTools(idx, SearchConfig{
		Sources:      map[string]string{SearchStackOverflowThread: "stack-overflow-custom-source"},
		EmptyMessage: "nothing",
	}, nil)
	got, _ := toolByName(t, tools, SearchStackOverflowThread).Invoke(context.Background(), map[string]any{"query": "q"})
	if got != "nothing" {
		t.Errorf("Invoke() = %q, want empty message", got)
	}
	if idx.queries[0].Source != "stack-overflow-custom-source" {
		t.Errorf("source = %q", idx.queries[0].Source)
	}
}

func TestSearchTool_IndexError(t *testing.T) {
	idx := &recordingIndex{err: errors.New("closed")}
	tool := toolByName(t, NewSearchTools(idx, SearchConfig{}, nil), SearchJenkinsDocs)
	if _, err := tool.Invoke(context.Background(), map[string]any{"query": "q", "keywords": "k"}); err == nil || !strings.Contains(err.Error(), SearchJenkinsDocs) {
		t.Errorf("Invoke() error = %v", err)
	}
}

func TestRegisterSearchTools_DefaultPlanRuns(t *testing.T) {
	idx, err := store.NewSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteIndex() error = %v", err)
	}
	defer idx.Close()
	if err := idx.Upsert(context.Background(), []*models.Chunk{
		{ID: "d", Source: models.SourceJenkinsDocs, Text: "Agents connect over inbound TCP."},
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := NewRegistry()
	if err := RegisterSearchTools(r, idx, SearchConfig{}, nil); err != nil {
		t.Fatalf("RegisterSearchTools() error = %v", err)
	}
	out := FormatOutcomes(r.Execute(context.Background(), r.DefaultPlan("inbound agents")))

	if !strings.Contains(out, "[Result of the search tool search_jenkins_docs]:\nAgents connect over inbound TCP.") {
		t.Errorf("missing docs block:\n%s", out)
	}
	if strings.Count(out, "No context available.") != 3 {
		t.Errorf("want 3 empty blocks:\n%s", out)
	}
}
