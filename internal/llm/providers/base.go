// Package providers implements llm.Provider for OpenAI and OpenAI-compatible
// servers, Anthropic, Google Gemini and AWS Bedrock.
package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/chatcore/internal/llm"
)

// base holds shared retry configuration for providers.
type base struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBase(name string, maxRetries int, retryDelay time.Duration) base {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return base{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// retry executes op with linear backoff while isRetryable reports true.
func (b *base) retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) || attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// send delivers chunk unless ctx is done. It reports whether the chunk was sent.
func send(ctx context.Context, chunks chan<- *llm.Chunk, chunk *llm.Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
