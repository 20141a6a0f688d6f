// Package llm defines the generation contract used by the answer pipeline and
// a Generator that adds timeouts, metrics and tracing on top of a Provider.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no provider is configured.
var ErrUnavailable = errors.New("llm: no provider configured")

// User-visible replies for generation failures.
const (
	UnavailableMessage = "The language model is not available. Please configure an LLM provider."
	TransientMessage   = "Sorry, I'm having trouble generating a response right now."
)

// Provider is a streaming completion backend.
//
// Implementations must be safe for concurrent use. Complete returns a channel
// that is closed after a chunk with Done or Error set.
type Provider interface {
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
}

// Request is a single completion request.
type Request struct {
	// Model overrides the provider default when set.
	Model string `json:"model,omitempty"`

	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`

	// MaxTokens bounds the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is passed through when non-nil.
	Temperature *float32 `json:"temperature,omitempty"`
}

// Message is one prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one piece of a streamed response.
type Chunk struct {
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error error  `json:"-"`

	// Token usage, reported on the final chunk when the backend provides it.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// FallbackMessage returns the user-visible reply for a generation error.
func FallbackMessage(err error) string {
	if errors.Is(err, ErrUnavailable) {
		return UnavailableMessage
	}
	return TransientMessage
}

type stageKey struct{}

// WithStage labels generation calls made with ctx for metrics and spans.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage label set by WithStage, or "generate".
func StageFromContext(ctx context.Context) string {
	if stage, ok := ctx.Value(stageKey{}).(string); ok && stage != "" {
		return stage
	}
	return "generate"
}
