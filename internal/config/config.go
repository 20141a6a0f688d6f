package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/chatcore/internal/auth"
	"github.com/haasonsaas/chatcore/internal/ratelimit"
	"github.com/haasonsaas/chatcore/internal/sanitize"
)

// Config is the main configuration structure for chatcore.
type Config struct {
	Version int `yaml:"version"`

	Server      ServerConfig     `yaml:"server"`
	Auth        auth.Config      `yaml:"auth"`
	RateLimit   ratelimit.Config `yaml:"ratelimit"`
	Session     SessionConfig    `yaml:"session"`
	Storage     StorageConfig    `yaml:"storage"`
	LLM         LLMConfig        `yaml:"llm"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Retrieval   RetrievalConfig  `yaml:"retrieval"`
	Attachments AttachmentConfig `yaml:"attachments"`
	Sanitizer   sanitize.Config  `yaml:"sanitizer"`
	Logging     LoggingConfig    `yaml:"logging"`
	Tracing     TracingConfig    `yaml:"tracing"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

// Default returns a configuration that runs a local server with file
// storage and no language model.
func Default() *Config {
	cfg := base()
	applyDefaults(cfg)
	return cfg
}

// base holds the defaults whose zero value is also a valid setting, so
// they must be in place before a file is decoded over them.
func base() *Config {
	return &Config{
		Version:   CurrentVersion,
		RateLimit: ratelimit.DefaultConfig(),
		Pipeline:  PipelineConfig{MaxIterations: 1},
		Metrics:   MetricsConfig{Enabled: true},
	}
}

// Load reads and parses the configuration file, resolving $include
// directives and ${VAR} references, then applies defaults and validates.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Prefix == "" {
		cfg.Server.Prefix = "/api/chatbot"
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 32 << 20
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}

	applySessionDefaults(&cfg.Session)
	applyStorageDefaults(&cfg.Storage)
	applyLLMDefaults(&cfg.LLM)
	applyPipelineDefaults(&cfg.Pipeline)
	applyRetrievalDefaults(&cfg.Retrieval)

	if cfg.Attachments.MaxTextBytes == 0 {
		cfg.Attachments.MaxTextBytes = 5 << 20
	}
	if cfg.Attachments.MaxImageBytes == 0 {
		cfg.Attachments.MaxImageBytes = 10 << 20
	}
	if cfg.Attachments.MaxTextChars == 0 {
		cfg.Attachments.MaxTextChars = 10000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "chatcore"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Prefix, "/") {
		errs = append(errs, fmt.Errorf("server.prefix must start with /"))
	}
	for i, key := range c.Auth.APIKeys {
		if strings.TrimSpace(key.Key) == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].key is required", i))
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.BurstSize < 0 {
		errs = append(errs, fmt.Errorf("ratelimit values must not be negative"))
	}
	errs = append(errs, c.Session.validate()...)
	errs = append(errs, c.Storage.validate()...)
	if strings.EqualFold(c.Session.Locks.Backend, "db") && !strings.EqualFold(c.Storage.Backend, "postgres") {
		errs = append(errs, fmt.Errorf("session.locks.backend db requires postgres storage"))
	}
	errs = append(errs, c.LLM.validate()...)
	errs = append(errs, c.Pipeline.validate()...)
	errs = append(errs, c.Retrieval.validate()...)
	if _, err := sanitize.New(c.Sanitizer); err != nil {
		errs = append(errs, fmt.Errorf("sanitizer: %w", err))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampling_rate must be between 0 and 1"))
	}
	return errors.Join(errs...)
}
