package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/chatcore/internal/agent"
	"github.com/haasonsaas/chatcore/internal/rag/chunker"
)

// LLMConfig selects the language model provider. Provider "none" runs
// without generation; every answer is then the unavailable message.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`

	// BaseURL points openai at a compatible server (llama.cpp, Ollama).
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Region and the static keys are used by bedrock only.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature *float32      `yaml:"temperature"`

	// Fallbacks are tried in order when the primary provider is down,
	// rate limited or out of credit.
	Fallbacks []FallbackConfig `yaml:"fallbacks"`

	// CircuitThreshold consecutive failures take a provider out of rotation
	// for CircuitTimeout.
	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `yaml:"circuit_timeout"`
}

// FallbackConfig is a secondary provider. It shares retry settings with
// the primary.
type FallbackConfig struct {
	Provider        string `yaml:"provider"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// PipelineConfig configures the answer pipeline.
type PipelineConfig struct {
	// MaxIterations bounds the retrieve-and-judge loop. Zero runs once.
	MaxIterations int `yaml:"max_iterations"`

	// HistoryTokens is the budget conversation history is trimmed to.
	HistoryTokens int `yaml:"history_tokens"`

	SystemInstruction string `yaml:"system_instruction"`

	Budgets agent.Budgets `yaml:"budgets"`
}

// RetrievalConfig configures the knowledge index and search tools.
type RetrievalConfig struct {
	// DocsDir holds the documents that are chunked into the index.
	DocsDir string `yaml:"docs_dir"`

	// IndexPath is the SQLite keyword index file.
	IndexPath string `yaml:"index_path"`

	// Watch reloads the index when files under DocsDir change.
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	Chunking chunker.Config `yaml:"chunking"`
	Vector   VectorConfig   `yaml:"vector"`

	TopK       int               `yaml:"top_k"`
	TopKByTool map[string]int    `yaml:"top_k_by_tool"`
	Sources    map[string]string `yaml:"sources"`

	// ToolConcurrency bounds parallel tool calls within one round.
	ToolConcurrency int `yaml:"tool_concurrency"`
}

// VectorConfig enables semantic search blended with keyword search.
type VectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	KeywordWeight  float32 `yaml:"keyword_weight"`
	SemanticWeight float32 `yaml:"semantic_weight"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "none"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CircuitThreshold == 0 {
		cfg.CircuitThreshold = 3
	}
	if cfg.CircuitTimeout == 0 {
		cfg.CircuitTimeout = 30 * time.Second
	}
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.HistoryTokens == 0 {
		cfg.HistoryTokens = 2000
	}
}

func applyRetrievalDefaults(cfg *RetrievalConfig) {
	if cfg.DocsDir == "" {
		cfg.DocsDir = "data/docs"
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = "data/index.db"
	}
	if cfg.Vector.Enabled && cfg.Vector.Path == "" {
		cfg.Vector.Path = "data/vectors"
	}
	if cfg.ToolConcurrency == 0 {
		cfg.ToolConcurrency = 4
	}
}

func (c LLMConfig) validate() []error {
	errs := validateProvider("llm", c.Provider, c.APIKey, c.BaseURL)
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2"))
	}
	if len(c.Fallbacks) > 0 && strings.EqualFold(c.Provider, "none") {
		errs = append(errs, fmt.Errorf("llm.fallbacks require a primary llm.provider"))
	}
	for i, fb := range c.Fallbacks {
		prefix := fmt.Sprintf("llm.fallbacks[%d]", i)
		if strings.EqualFold(fb.Provider, "none") || strings.TrimSpace(fb.Provider) == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
			continue
		}
		errs = append(errs, validateProvider(prefix, fb.Provider, fb.APIKey, fb.BaseURL)...)
	}
	if c.CircuitThreshold < 0 {
		errs = append(errs, fmt.Errorf("llm.circuit_threshold must not be negative"))
	}
	return errs
}

func validateProvider(prefix, name, apiKey, baseURL string) []error {
	var errs []error
	provider := strings.ToLower(name)
	switch provider {
	case "none", "openai", "anthropic", "google", "bedrock":
	default:
		errs = append(errs, fmt.Errorf("%s.provider %q is not one of none, openai, anthropic, google, bedrock", prefix, name))
	}
	if (provider == "anthropic" || provider == "google") && strings.TrimSpace(apiKey) == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for %s", prefix, provider))
	}
	if provider == "openai" && strings.TrimSpace(apiKey) == "" && strings.TrimSpace(baseURL) == "" {
		errs = append(errs, fmt.Errorf("%s.api_key or %s.base_url is required for openai", prefix, prefix))
	}
	return errs
}

func (c PipelineConfig) validate() []error {
	var errs []error
	if c.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_iterations must not be negative"))
	}
	if c.HistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_tokens must not be negative"))
	}
	return errs
}

func (c RetrievalConfig) validate() []error {
	var errs []error
	if c.TopK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must not be negative"))
	}
	for name, k := range c.TopKByTool {
		if k < 0 {
			errs = append(errs, fmt.Errorf("retrieval.top_k_by_tool.%s must not be negative", name))
		}
	}
	if c.Chunking.ChunkSize > 0 && c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("retrieval.chunking.chunk_overlap must be smaller than chunk_size"))
	}
	return errs
}
