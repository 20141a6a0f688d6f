package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	// Two registries must not collide on metric names.
	first := NewMetrics(prometheus.NewRegistry())
	second := NewMetrics(prometheus.NewRegistry())
	if first == nil || second == nil {
		t.Fatal("NewMetrics() returned nil")
	}
}

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionCreated()
	m.SessionCreated()
	m.SetResidentSessions(2)
	m.SessionEvicted("quota", 1)
	m.SessionEvicted("expired", 0)

	if got := testutil.ToFloat64(m.SessionsCreated); got != 2 {
		t.Errorf("sessions created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResidentSessions); got != 2 {
		t.Errorf("resident sessions = %v, want 2", got)
	}

	expected := `
		# HELP chatcore_sessions_evicted_total Total number of sessions removed by reason
		# TYPE chatcore_sessions_evicted_total counter
		chatcore_sessions_evicted_total{reason="quota"} 1
	`
	if err := testutil.CollectAndCompare(m.SessionsEvicted, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestMetrics_RecordLLMRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLLMRequest("openai", "gpt-4o-mini", "relevance", "success", 0.4)
	m.RecordLLMRequest("openai", "gpt-4o-mini", "relevance", "timeout", 60)

	if count := testutil.CollectAndCount(m.LLMRequestCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "gpt-4o-mini", "relevance", "timeout")); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
}

func TestMetrics_PipelineAndTools(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPipelineRun("MULTI", "fallback", 2)
	m.RecordMalformedOutput("relevance")
	m.RecordToolExecution("search_jenkins_docs", "error", 0.02)
	m.RecordRateLimited()

	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("MULTI", "fallback")); got != 1 {
		t.Errorf("pipeline runs = %v", got)
	}
	if got := testutil.ToFloat64(m.MalformedOutputs.WithLabelValues("relevance")); got != 1 {
		t.Errorf("malformed outputs = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("search_jenkins_docs", "error")); got != 1 {
		t.Errorf("tool executions = %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 1 {
		t.Errorf("rate limited = %v", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.SessionCreated()
	m.SetResidentSessions(3)
	m.RecordLLMRequest("p", "m", "s", "success", 1)
	m.RecordPersist("success", 0.1)
	m.RecordHTTPRequest("GET", "/", "200", 0.1)
}
