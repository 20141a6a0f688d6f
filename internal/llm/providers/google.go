package providers

import (
	"context"
	"errors"
	"math"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/chatcore/internal/llm"
)

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GoogleProvider streams completions from the Gemini API.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	base         base
}

// NewGoogleProvider creates a GoogleProvider.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewProviderError("google", cfg.DefaultModel, err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		base:         newBase("google", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return "google"
}

// Complete streams a GenerateContent call. A request is retried only while no
// text has been delivered for it.
func (p *GoogleProvider) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents := toGeminiContents(req.Messages)
	config := buildGeminiConfig(req)

	chunks := make(chan *llm.Chunk)
	go func() {
		defer close(chunks)

		var inputTokens, outputTokens int
		delivered := false
		err := p.base.retry(ctx, func(err error) bool { return !delivered && IsRetryable(err) }, func() error {
			for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
				if err != nil {
					return NewProviderError("google", model, err)
				}
				if resp == nil {
					continue
				}
				if resp.UsageMetadata != nil {
					inputTokens = int(resp.UsageMetadata.PromptTokenCount)
					outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				}
				if text := resp.Text(); text != "" {
					delivered = true
					if !send(ctx, chunks, &llm.Chunk{Text: text}) {
						return ctx.Err()
					}
				}
			}
			return nil
		})
		if err != nil {
			send(ctx, chunks, &llm.Chunk{Error: err, Done: true})
			return
		}
		send(ctx, chunks, &llm.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
	}()
	return chunks, nil
}

func toGeminiContents(messages []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(msg.Content, role))
	}
	return out
}

func buildGeminiConfig(req *llm.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = req.Temperature
	}
	return config
}
