package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/chatcore/internal/observability"
)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Model is passed on every request; empty uses the provider default.
	Model string

	// System is sent as the system prompt on every request.
	System string

	// Timeout bounds each generation call. Zero means 60s.
	Timeout time.Duration

	Temperature *float32
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) GeneratorOption {
	return func(g *Generator) { g.tracer = tracer }
}

// Generator turns a prompt into text using a Provider.
type Generator struct {
	provider Provider
	cfg      GeneratorConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewGenerator creates a Generator. A nil provider yields a generator whose
// calls all fail with ErrUnavailable.
func NewGenerator(provider Provider, cfg GeneratorConfig, opts ...GeneratorOption) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	g := &Generator{
		provider: provider,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "llm")
	return g
}

// Available reports whether a provider is configured.
func (g *Generator) Available() bool {
	return g != nil && g.provider != nil
}

// Generate returns the full completion for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return g.Stream(ctx, prompt, maxTokens, nil)
}

// Stream generates a completion, calling onToken for every text chunk as it
// arrives. It returns the concatenated text. On error the partial text is
// returned alongside the error.
func (g *Generator) Stream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error) {
	if !g.Available() {
		return "", ErrUnavailable
	}

	stage := StageFromContext(ctx)
	provider := g.provider.Name()
	model := g.cfg.Model
	if model == "" {
		model = "default"
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	ctx, span := g.tracer.TraceLLMRequest(ctx, provider, model, stage)
	defer span.End()

	start := time.Now()
	text, err := g.complete(ctx, prompt, maxTokens, onToken)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		g.metrics.RecordLLMRequest(provider, model, stage, status, elapsed)
		g.tracer.RecordError(span, err)
		g.logger.ErrorContext(ctx, "generation failed",
			"provider", provider,
			"stage", stage,
			"status", status,
			"error", err,
		)
		return text, fmt.Errorf("%s generation: %w", stage, err)
	}

	g.metrics.RecordLLMRequest(provider, model, stage, "success", elapsed)
	return text, nil
}

func (g *Generator) complete(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error) {
	req := &Request{
		Model:       g.cfg.Model,
		System:      g.cfg.System,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: g.cfg.Temperature,
	}

	chunks, err := g.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for {
		select {
		case <-ctx.Done():
			// Drain so the provider goroutine can exit.
			go func() {
				for range chunks {
				}
			}()
			return out.String(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return out.String(), ctx.Err()
			}
			if chunk.Error != nil {
				return out.String(), chunk.Error
			}
			if chunk.Text != "" {
				out.WriteString(chunk.Text)
				if onToken != nil {
					onToken(chunk.Text)
				}
			}
			if chunk.Done {
				return out.String(), nil
			}
		}
	}
}
