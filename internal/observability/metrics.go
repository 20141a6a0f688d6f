package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus metrics exported by chatcore.
//
// All recording methods are safe to call on a nil *Metrics, which lets
// components run without instrumentation in tests.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordLLMRequest("openai", "gpt-4o-mini", "relevance", "success", 0.8)
type Metrics struct {
	// ResidentSessions is the number of sessions held in memory.
	ResidentSessions prometheus.Gauge

	// SessionsCreated counts created sessions.
	SessionsCreated prometheus.Counter

	// SessionsEvicted counts removed sessions.
	// Labels: reason (quota|expired|deleted)
	SessionsEvicted *prometheus.CounterVec

	// SessionRehydrations counts lookups that went to durable storage.
	// Labels: result (hit|miss|error)
	SessionRehydrations *prometheus.CounterVec

	// PersistDuration measures durable snapshot writes in seconds.
	// Labels: status (success|error)
	PersistDuration *prometheus.HistogramVec

	// LLMRequestDuration measures generation latency in seconds.
	// Labels: provider, model, stage
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts generation requests.
	// Labels: provider, model, stage, status (success|error|timeout)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts search tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// PipelineRuns counts answered utterances.
	// Labels: classification (SIMPLE|MULTI), outcome (answered|fallback|partial|generation_error|unavailable)
	PipelineRuns *prometheus.CounterVec

	// PipelineIterations observes retrieve-judge rounds per query.
	PipelineIterations prometheus.Histogram

	// MalformedOutputs counts model outputs that fell back to a default.
	// Labels: stage (classify|decompose|tool_plan|relevance)
	MalformedOutputs *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// RateLimited counts rejected requests.
	RateLimited prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ResidentSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatcore_sessions_resident",
			Help: "Number of sessions currently held in memory",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_sessions_evicted_total",
			Help: "Total number of sessions removed by reason",
		}, []string{"reason"}),
		SessionRehydrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_session_rehydrations_total",
			Help: "Session lookups served from durable storage by result",
		}, []string{"result"}),
		PersistDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatcore_session_persist_duration_seconds",
			Help:    "Duration of durable session snapshots in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatcore_llm_request_duration_seconds",
			Help:    "Duration of generation requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model", "stage"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_llm_requests_total",
			Help: "Total number of generation requests by provider, model, stage and status",
		}, []string{"provider", "model", "stage", "status"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_tool_executions_total",
			Help: "Total number of tool executions by tool name and status",
		}, []string{"tool_name", "status"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatcore_tool_execution_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_pipeline_runs_total",
			Help: "Total number of answered queries by classification and outcome",
		}, []string{"classification", "outcome"}),
		PipelineIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatcore_pipeline_iterations",
			Help:    "Retrieve-judge rounds per query",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		MalformedOutputs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_malformed_model_outputs_total",
			Help: "Model outputs that could not be parsed and fell back to a default",
		}, []string{"stage"}),
		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_errors_total",
			Help: "Total number of errors by component and error type",
		}, []string{"component", "error_type"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatcore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "path", "status_code"}),
		HTTPRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
	}
}

// SetResidentSessions records the size of the resident session map.
func (m *Metrics) SetResidentSessions(n int) {
	if m == nil {
		return
	}
	m.ResidentSessions.Set(float64(n))
}

// SessionCreated increments the created sessions counter.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// SessionEvicted counts a removed session.
func (m *Metrics) SessionEvicted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEvicted.WithLabelValues(reason).Add(float64(n))
}

// SessionRehydrated counts a lookup that consulted durable storage.
func (m *Metrics) SessionRehydrated(result string) {
	if m == nil {
		return
	}
	m.SessionRehydrations.WithLabelValues(result).Inc()
}

// RecordPersist records a durable snapshot write.
func (m *Metrics) RecordPersist(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for a generation request.
//
// Example:
//
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-5-haiku-latest", "answer", "success", time.Since(start).Seconds())
func (m *Metrics) RecordLLMRequest(provider, model, stage, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, stage, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model, stage).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordPipelineRun records the outcome of one retrieve-judge loop.
func (m *Metrics) RecordPipelineRun(classification, outcome string, iterations int) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(classification, outcome).Inc()
	m.PipelineIterations.Observe(float64(iterations))
}

// RecordMalformedOutput counts a model output that fell back to its default.
func (m *Metrics) RecordMalformedOutput(stage string) {
	if m == nil {
		return
	}
	m.MalformedOutputs.WithLabelValues(stage).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("sessions", "persist_failed")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
