package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/chatcore/internal/observability"
)

type fakeTool struct {
	name   string
	params []Param
	invoke func(ctx context.Context, params map[string]any) (string, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Params() []Param     { return f.params }
func (f *fakeTool) Invoke(ctx context.Context, params map[string]any) (string, error) {
	if f.invoke == nil {
		return f.name + ":" + stringParam(params, "query"), nil
	}
	return f.invoke(ctx, params)
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	for _, tool := range []Tool{
		&fakeTool{name: "search_jenkins_docs", params: []Param{queryParam, keywordsParam}},
		&fakeTool{name: "search_plugin_docs", params: []Param{queryParam, keywordsParam, pluginNameParam}},
		&fakeTool{name: "search_community_threads", params: []Param{queryParam, keywordsParam}},
		&fakeTool{name: "search_stackoverflow_threads", params: []Param{queryParam}},
	} {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register(%s) error = %v", tool.Name(), err)
		}
	}
	return r
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return v
}

func TestRegistry_Validate(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name    string
		plan    string
		wantErr bool
	}{
		{"valid", `[{"tool": "search_jenkins_docs", "params": {"query": "q", "keywords": "k"}}]`, false},
		{"nullable plugin name", `[{"tool": "search_plugin_docs", "params": {"query": "q", "keywords": "k", "plugin_name": null}}]`, false},
		{"optional plugin name omitted", `[{"tool": "search_plugin_docs", "params": {"query": "q", "keywords": "k"}}]`, false},
		{"missing keywords", `[{"tool": "search_jenkins_docs", "params": {"query": "q"}}]`, true},
		{"null where not nullable", `[{"tool": "search_jenkins_docs", "params": {"query": null, "keywords": "k"}}]`, true},
		{"params not a mapping", `[{"tool": "search_community_threads", "params": null}]`, true},
		{"params a list", `[{"tool": "search_community_threads", "params": ["q"]}]`, true},
		{"unknown tool", `[{"tool": "search_web", "params": {"query": "q"}}]`, true},
		{"missing tool name", `[{"params": {"query": "q"}}]`, true},
		{"unknown parameter", `[{"tool": "search_stackoverflow_threads", "params": {"query": "q", "top_k": 3}}]`, true},
		{"wrong type", `[{"tool": "search_stackoverflow_threads", "params": {"query": 7}}]`, true},
		{"not a list", `{"tool": "search_stackoverflow_threads"}`, true},
		{"empty plan", `[]`, true},
		{"one bad call rejects all", `[{"tool": "search_stackoverflow_threads", "params": {"query": "q"}}, {"tool": "search_jenkins_docs", "params": {}}]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, err := r.Validate(decode(t, tt.plan))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPlan) {
					t.Fatalf("Validate() error = %v, want ErrInvalidPlan", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if len(calls) != 1 {
				t.Fatalf("got %d calls", len(calls))
			}
		})
	}
}

func TestRegistry_DefaultPlan(t *testing.T) {
	r := newTestRegistry(t)
	query := "jenkins plugin dependency issue"
	plan := r.DefaultPlan(query)

	if len(plan) != 4 {
		t.Fatalf("DefaultPlan() has %d calls, want 4", len(plan))
	}
	for _, call := range plan {
		if call.Params["query"] != query {
			t.Errorf("%s query = %v", call.Tool, call.Params["query"])
		}
		_, hasKeywords := call.Params["keywords"]
		wantKeywords := call.Tool != "search_stackoverflow_threads"
		if hasKeywords != wantKeywords {
			t.Errorf("%s has keywords = %v, want %v", call.Tool, hasKeywords, wantKeywords)
		}
		if _, ok := call.Params["plugin_name"]; ok {
			t.Errorf("%s should not set plugin_name", call.Tool)
		}
	}

	// The default plan must itself be valid.
	raw := decode(t, mustJSON(t, plan))
	if _, err := r.Validate(raw); err != nil {
		t.Errorf("default plan is invalid: %v", err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestRegistry_ExecuteIsolatesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	r := NewRegistry(WithMetrics(metrics), WithConcurrency(2))

	var calls atomic.Int32
	register := func(tool *fakeTool) {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	register(&fakeTool{name: "ok", params: []Param{queryParam}, invoke: func(_ context.Context, p map[string]any) (string, error) {
		calls.Add(1)
		return "found " + stringParam(p, "query"), nil
	}})
	register(&fakeTool{name: "broken", params: []Param{queryParam}, invoke: func(context.Context, map[string]any) (string, error) {
		calls.Add(1)
		return "partial", errors.New("index offline")
	}})
	register(&fakeTool{name: "panics", params: []Param{queryParam}, invoke: func(context.Context, map[string]any) (string, error) {
		calls.Add(1)
		panic("boom")
	}})

	outcomes := r.Execute(context.Background(), []Call{
		{Tool: "broken", Params: map[string]any{"query": "a"}},
		{Tool: "ok", Params: map[string]any{"query": "b"}},
		{Tool: "panics", Params: map[string]any{"query": "c"}},
		{Tool: "missing", Params: map[string]any{"query": "d"}},
	})

	if calls.Load() != 3 {
		t.Errorf("invoked %d tools, want 3", calls.Load())
	}
	wantOut := []string{"", "found b", "", ""}
	for i, o := range outcomes {
		if o.Output != wantOut[i] {
			t.Errorf("outcome %d output = %q, want %q", i, o.Output, wantOut[i])
		}
		if (o.Err != nil) != (wantOut[i] == "") {
			t.Errorf("outcome %d err = %v", i, o.Err)
		}
	}
	for i, want := range []ErrorType{ErrorExecution, "", ErrorPanic, ErrorNotFound} {
		if got := ErrorTypeOf(outcomes[i].Err); got != want {
			t.Errorf("outcome %d error type = %q, want %q", i, got, want)
		}
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("broken", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("ok", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
}

func TestFormatOutcomes(t *testing.T) {
	got := FormatOutcomes([]Outcome{
		{Tool: "search_jenkins_docs", Output: "docs text"},
		{Tool: "search_plugin_docs", Output: ""},
		{Tool: "search_stackoverflow_threads", Output: "  so text \n"},
	})
	want := "[Result of the search tool search_jenkins_docs]:\ndocs text\n\n" +
		"[Result of the search tool search_plugin_docs]:\n\n" +
		"[Result of the search tool search_stackoverflow_threads]:\n  so text"
	if got != want {
		t.Errorf("FormatOutcomes() = %q, want %q", got, want)
	}
}

func TestRegistry_ListAndDescribe(t *testing.T) {
	r := newTestRegistry(t)
	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name())
	}
	if strings.Join(names, ",") != "search_community_threads,search_jenkins_docs,search_plugin_docs,search_stackoverflow_threads" {
		t.Errorf("List() = %v", names)
	}
	desc := r.Describe()
	if !strings.Contains(desc, "plugin_name (optional, may be null)") || !strings.Contains(desc, "keywords (required)") {
		t.Errorf("Describe() = %s", desc)
	}
}
