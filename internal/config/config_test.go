package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Prefix != "/api/chatbot" {
		t.Errorf("Server.Prefix = %q", cfg.Server.Prefix)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.Pipeline.MaxIterations != 1 {
		t.Errorf("Pipeline.MaxIterations = %d, want 1", cfg.Pipeline.MaxIterations)
	}
	if cfg.LLM.Provider != "none" {
		t.Errorf("LLM.Provider = %q, want none", cfg.LLM.Provider)
	}
	if cfg.Storage.Backend != "file" || cfg.Session.Timeout != 24*time.Hour {
		t.Errorf("storage/session defaults = %q / %s", cfg.Storage.Backend, cfg.Session.Timeout)
	}
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  max_iterations: 0
ratelimit:
  enabled: false
metrics:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.MaxIterations != 0 {
		t.Errorf("Pipeline.MaxIterations = %d, want 0", cfg.Pipeline.MaxIterations)
	}
	if cfg.RateLimit.Enabled || cfg.Metrics.Enabled {
		t.Error("explicit false should be kept")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
session:
  timeout: 90m
  locks:
    ttl: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Timeout != 90*time.Minute {
		t.Errorf("Session.Timeout = %s", cfg.Session.Timeout)
	}
	if cfg.Session.Locks.RefreshInterval != 10*time.Second {
		t.Errorf("RefreshInterval = %s, want ttl/3", cfg.Session.Locks.RefreshInterval)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown provider",
			content: "llm:\n  provider: llama\n",
			want:    "llm.provider",
		},
		{
			name:    "anthropic without key",
			content: "llm:\n  provider: anthropic\n",
			want:    "llm.api_key",
		},
		{
			name:    "postgres without dsn",
			content: "storage:\n  backend: postgres\n",
			want:    "storage.sql.dsn",
		},
		{
			name:    "s3 without bucket",
			content: "storage:\n  backend: s3\n",
			want:    "storage.s3.bucket",
		},
		{
			name:    "db locks without postgres",
			content: "session:\n  locks:\n    backend: db\n",
			want:    "requires postgres",
		},
		{
			name:    "log level",
			content: "logging:\n  level: loud\n",
			want:    "logging.level",
		},
		{
			name:    "bad sanitizer regex",
			content: "sanitizer:\n  patterns:\n    - name: broken\n      regex: \"(\"\n",
			want:    "sanitizer",
		},
		{
			name:    "future version",
			content: "version: 99\n",
			want:    "newer than this build",
		},
		{
			name:    "chunk overlap",
			content: "retrieval:\n  chunking:\n    chunk_size: 100\n    chunk_overlap: 100\n",
			want:    "chunk_overlap",
		},
		{
			name:    "fallback without primary",
			content: "llm:\n  fallbacks:\n    - provider: openai\n      base_url: http://localhost:8080/v1\n",
			want:    "require a primary",
		},
		{
			name:    "fallback without key",
			content: "llm:\n  provider: openai\n  api_key: sk\n  fallbacks:\n    - provider: google\n",
			want:    "llm.fallbacks[0].api_key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadReportsAllProblems(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: llama
logging:
  format: xml
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"llm.provider", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %s", err, want)
		}
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CHATCORE_TEST_KEY", "sk-test")
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: ${CHATCORE_TEST_KEY}
  model: ${CHATCORE_TEST_MODEL:-gpt-4o-mini}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want fallback", cfg.LLM.Model)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), `
server:
  port: 7000
  host: 127.0.0.1
logging:
  level: debug
`)
	path := filepath.Join(dir, "main.yaml")
	writeFile(t, path, `
$include: base.yaml
server:
  port: 7100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, including file should win", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Logging.Level != "debug" {
		t.Errorf("included values lost: host=%q level=%q", cfg.Server.Host, cfg.Logging.Level)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "$include: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "$include: a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatcore.json5")
	writeFile(t, path, `{
  // comments are allowed
  server: {port: 8800},
  retrieval: {top_k: 5, sources: {search_jenkins_docs: "docs"}},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8800 || cfg.Retrieval.TopK != 5 {
		t.Errorf("cfg = %+v / %+v", cfg.Server, cfg.Retrieval)
	}
	if cfg.Retrieval.Sources["search_jenkins_docs"] != "docs" {
		t.Errorf("Sources = %v", cfg.Retrieval.Sources)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d", cfg.Version)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties")
	}
	for _, key := range []string{"server", "session", "llm", "retrieval", "$include"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema lacks %q", key)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatcore.yaml")
	writeFile(t, path, content)
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
