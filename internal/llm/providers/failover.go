package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/chatcore/internal/llm"
)

// FailoverConfig configures a Failover.
type FailoverConfig struct {
	// CircuitThreshold is the number of consecutive failures that takes a
	// provider out of rotation. Default: 3.
	CircuitThreshold int

	// CircuitTimeout is how long a provider stays out of rotation.
	// Default: 30s.
	CircuitTimeout time.Duration
}

// DefaultFailoverConfig returns the default circuit settings.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		CircuitThreshold: 3,
		CircuitTimeout:   30 * time.Second,
	}
}

type circuit struct {
	failures int
	openedAt time.Time
}

// Failover tries providers in order. A provider whose request fails with a
// reason another backend could avoid is skipped for the next one; errors
// inside an already started stream are not retried elsewhere.
type Failover struct {
	providers []llm.Provider
	cfg       FailoverConfig
	now       func() time.Time

	mu       sync.Mutex
	circuits []circuit
}

// NewFailover creates a failover chain. Fallbacks are sent requests without
// a model override so each uses its own default model.
func NewFailover(cfg FailoverConfig, primary llm.Provider, fallbacks ...llm.Provider) *Failover {
	def := DefaultFailoverConfig()
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = def.CircuitThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = def.CircuitTimeout
	}
	all := append([]llm.Provider{primary}, fallbacks...)
	return &Failover{
		providers: all,
		cfg:       cfg,
		now:       time.Now,
		circuits:  make([]circuit, len(all)),
	}
}

// Name returns the chain's provider names, primary first.
func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

// Complete implements llm.Provider.
func (f *Failover) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	var lastErr error
	for i, provider := range f.providers {
		if !f.available(i) {
			continue
		}
		r := req
		if i > 0 && req.Model != "" {
			copied := *req
			copied.Model = ""
			r = &copied
		}
		chunks, err := provider.Complete(ctx, r)
		if err == nil {
			f.recordSuccess(i)
			return chunks, nil
		}
		lastErr = err
		f.recordFailure(i)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !ShouldFailover(err) {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = &ProviderError{
			Reason:  ReasonModelUnavailable,
			Message: fmt.Sprintf("every provider in %s is cooling down", f.Name()),
		}
	}
	return nil, lastErr
}

func (f *Failover) available(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.circuits[i]
	if c.failures < f.cfg.CircuitThreshold {
		return true
	}
	return f.now().Sub(c.openedAt) >= f.cfg.CircuitTimeout
}

func (f *Failover) recordSuccess(i int) {
	f.mu.Lock()
	f.circuits[i] = circuit{}
	f.mu.Unlock()
}

func (f *Failover) recordFailure(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &f.circuits[i]
	c.failures++
	if c.failures >= f.cfg.CircuitThreshold {
		c.openedAt = f.now()
	}
}

// ShouldFailover reports whether a different provider might succeed where
// this one failed. Malformed requests and filtered content would fail
// everywhere.
func ShouldFailover(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	reason := ClassifyError(err)
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		reason = providerErr.Reason
	}
	switch reason {
	case ReasonBilling, ReasonAuth, ReasonModelUnavailable,
		ReasonRateLimit, ReasonServerError, ReasonTimeout:
		return true
	default:
		return false
	}
}
