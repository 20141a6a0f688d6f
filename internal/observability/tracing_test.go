package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name:   "without endpoint",
			config: TraceConfig{ServiceVersion: "1.0.0"},
		},
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "chatcore-test",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
				SamplingRate:   0.5,
				Attributes:     map[string]string{"jenkins.instance": "ci"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown, err := NewTracer(context.Background(), tt.config)
			if err != nil {
				t.Fatalf("NewTracer() error = %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil || tracer.tracer == nil {
				t.Fatal("NewTracer() returned an unusable tracer")
			}
			if tracer.config.ServiceName == "" || tracer.config.SamplingRate == 0 {
				t.Errorf("defaults not applied: %+v", tracer.config)
			}
		})
	}
}

func TestTracerHelpers(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	ctx := context.Background()

	_, turn := tracer.TraceTurn(ctx, "sess-1")
	_, stage := tracer.TracePipelineStage(ctx, "classify")
	_, llm := tracer.TraceLLMRequest(ctx, "openai", "gpt-4o-mini", "answer")
	_, tool := tracer.TraceToolExecution(ctx, "search_jenkins_docs")
	_, store := tracer.TraceStorage(ctx, "persist", "sess-1")
	_, httpSpan := tracer.TraceHTTPRequest(ctx, "POST", "/api/chatbot/sessions")

	tracer.RecordError(llm, errors.New("boom"))
	tracer.RecordError(llm, nil)
	tracer.SetAttributes(turn, "iterations", 2, "relevant", true, 7, "ignored", "dangling")

	for _, span := range []trace.Span{turn, stage, llm, tool, store, httpSpan} {
		span.End()
	}
}

func TestNilTracerStart(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.Start(context.Background(), "noop")
	defer span.End()
	if ctx == nil {
		t.Fatal("Start() on nil tracer returned nil context")
	}
}

func TestRatioSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := ratioSampler(tt.rate).Description(); got != tt.want {
			t.Errorf("ratioSampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestLoggerAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	ctx := propagation.TraceContext{}.Extract(context.Background(), propagation.HeaderCarrier(header))
	logger.InfoContext(ctx, "turn answered")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace_id = %v", line["trace_id"])
	}
}
