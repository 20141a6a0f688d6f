// Package ratelimit provides per-owner request rate limiting.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the number of requests allowed per second.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second,omitempty"`
	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int `yaml:"burst_size" json:"burst_size,omitempty"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// IdleTTL is how long an unused key is remembered.
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl,omitempty"`
	// MaxKeys bounds the number of remembered keys.
	MaxKeys int `yaml:"max_keys" json:"max_keys,omitempty"`
}

// DefaultConfig returns the default rate limit configuration. Model calls
// dominate request cost, so the default is a few messages per second.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		BurstSize:         10,
		Enabled:           true,
		IdleTTL:           15 * time.Minute,
		MaxKeys:           10000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = max(int(c.RequestsPerSecond*2), 1)
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = def.IdleTTL
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = def.MaxKeys
	}
	return c
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps a token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		config:  config.withDefaults(),
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed, consuming a token
// if so.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// WaitTime returns how long to wait before a request would be allowed.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	now := l.now()
	r := l.get(key, now).ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len returns the number of remembered keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(l.entries) >= l.config.MaxKeys {
		l.evictLocked(now)
	}
	e := &entry{
		limiter:  rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		lastSeen: now,
	}
	l.entries[key] = e
	return e.limiter
}

// Evict drops keys idle for longer than IdleTTL and returns how many were
// dropped.
func (l *Limiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictLocked(l.now())
}

func (l *Limiter) evictLocked(now time.Time) int {
	n := 0
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.config.IdleTTL {
			delete(l.entries, key)
			n++
		}
	}
	// Still full: drop the least recently seen key.
	if len(l.entries) >= l.config.MaxKeys {
		var oldest string
		var oldestSeen time.Time
		for key, e := range l.entries {
			if oldest == "" || e.lastSeen.Before(oldestSeen) {
				oldest, oldestSeen = key, e.lastSeen
			}
		}
		delete(l.entries, oldest)
		n++
	}
	return n
}

// Status returns rate limit status for a key.
type Status struct {
	Key             string        `json:"key"`
	AllowedNow      bool          `json:"allowed_now"`
	TokensRemaining float64       `json:"tokens_remaining"`
	WaitTime        time.Duration `json:"wait_time"`
}

// GetStatus returns the rate limit status for a key.
func (l *Limiter) GetStatus(key string) Status {
	if !l.config.Enabled {
		return Status{
			Key:             key,
			AllowedNow:      true,
			TokensRemaining: float64(l.config.BurstSize),
		}
	}
	now := l.now()
	tokens := l.get(key, now).TokensAt(now)
	wait := l.WaitTime(key)
	return Status{
		Key:             key,
		AllowedNow:      tokens >= 1,
		TokensRemaining: tokens,
		WaitTime:        wait,
	}
}
