package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/chatcore/internal/observability"
)

type fakeProvider struct {
	complete func(ctx context.Context, req *Request) (<-chan *Chunk, error)
	lastReq  *Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	f.lastReq = req
	return f.complete(ctx, req)
}

func streamOf(chunks ...*Chunk) func(context.Context, *Request) (<-chan *Chunk, error) {
	return func(ctx context.Context, req *Request) (<-chan *Chunk, error) {
		ch := make(chan *Chunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch, nil
	}
}

func TestGenerator_Generate(t *testing.T) {
	provider := &fakeProvider{complete: streamOf(
		&Chunk{Text: "SIM"},
		&Chunk{Text: "PLE"},
		&Chunk{Done: true},
	)}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	gen := NewGenerator(provider, GeneratorConfig{Model: "m", System: "sys"}, WithMetrics(metrics))

	got, err := gen.Generate(WithStage(context.Background(), "classify"), "classify this", 16)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "SIMPLE" {
		t.Errorf("Generate() = %q, want SIMPLE", got)
	}
	if provider.lastReq.MaxTokens != 16 || provider.lastReq.System != "sys" || provider.lastReq.Model != "m" {
		t.Errorf("request = %+v", provider.lastReq)
	}
	if len(provider.lastReq.Messages) != 1 || provider.lastReq.Messages[0].Content != "classify this" {
		t.Errorf("messages = %+v", provider.lastReq.Messages)
	}
	if v := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("fake", "m", "classify", "success")); v != 1 {
		t.Errorf("success counter = %v, want 1", v)
	}
}

func TestGenerator_StreamCallsOnToken(t *testing.T) {
	provider := &fakeProvider{complete: streamOf(&Chunk{Text: "a"}, &Chunk{Text: "b"}, &Chunk{Done: true})}
	gen := NewGenerator(provider, GeneratorConfig{})

	var tokens []string
	got, err := gen.Stream(context.Background(), "p", 10, func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "ab" || strings.Join(tokens, ",") != "a,b" {
		t.Errorf("Stream() = %q, tokens %v", got, tokens)
	}
}

func TestGenerator_Unavailable(t *testing.T) {
	gen := NewGenerator(nil, GeneratorConfig{})
	if gen.Available() {
		t.Error("generator without provider should be unavailable")
	}
	_, err := gen.Generate(context.Background(), "p", 10)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrUnavailable", err)
	}
	if FallbackMessage(err) != UnavailableMessage {
		t.Errorf("FallbackMessage() = %q", FallbackMessage(err))
	}
}

func TestGenerator_ChunkError(t *testing.T) {
	boom := errors.New("stream reset")
	provider := &fakeProvider{complete: streamOf(&Chunk{Text: "part"}, &Chunk{Error: boom, Done: true})}
	gen := NewGenerator(provider, GeneratorConfig{})

	got, err := gen.Generate(context.Background(), "p", 10)
	if !errors.Is(err, boom) {
		t.Fatalf("Generate() error = %v, want %v", err, boom)
	}
	if got != "part" {
		t.Errorf("partial text = %q", got)
	}
	if FallbackMessage(err) != TransientMessage {
		t.Errorf("FallbackMessage() = %q", FallbackMessage(err))
	}
}

func TestGenerator_Timeout(t *testing.T) {
	provider := &fakeProvider{complete: func(ctx context.Context, req *Request) (<-chan *Chunk, error) {
		ch := make(chan *Chunk)
		go func() {
			defer close(ch)
			<-ctx.Done()
		}()
		return ch, nil
	}}
	gen := NewGenerator(provider, GeneratorConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := gen.Generate(context.Background(), "p", 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout was not applied")
	}
}

func TestStageFromContext(t *testing.T) {
	if got := StageFromContext(context.Background()); got != "generate" {
		t.Errorf("default stage = %q", got)
	}
	if got := StageFromContext(WithStage(context.Background(), "relevance")); got != "relevance" {
		t.Errorf("stage = %q", got)
	}
}
