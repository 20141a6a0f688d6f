// Package sanitize masks secrets in build logs and uploaded files before
// they are put in a model prompt.
package sanitize

import (
	"fmt"
	"regexp"
)

// Pattern is a named secret detector.
type Pattern struct {
	Name        string
	Regexp      *regexp.Regexp
	Replacement string
}

// Config lists extra patterns, applied after the defaults.
type Config struct {
	Patterns []PatternConfig `yaml:"patterns" json:"patterns,omitempty"`
}

// PatternConfig is a configured pattern. An empty replacement means
// "[REDACTED]".
type PatternConfig struct {
	Name        string `yaml:"name" json:"name"`
	Regex       string `yaml:"regex" json:"regex"`
	Replacement string `yaml:"replacement" json:"replacement,omitempty"`
}

// DefaultPatterns returns the built-in detectors in application order.
// Order matters: earlier patterns consume text later ones would also match.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{"aws_access_key", regexp.MustCompile(`\bA[KBS]IA[A-Z0-9]{16}\b`), "[AWS_KEY_REDACTED]"},
		{"aws_secret_key", regexp.MustCompile(`(?i)(?:AWS_SECRET_ACCESS_KEY|SecretAccessKey)\s*[=:]\s*["']?[A-Za-z0-9/+=]{40}["']?`), "[AWS_SECRET_REDACTED]"},
		{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9_]{36,255}\b`), "[GITHUB_TOKEN_REDACTED]"},
		{"generic_api_key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|api_token|access_token)\s*[=:]\s*["']?[A-Za-z0-9_\-]{20,}["']?`), "[API_KEY_REDACTED]"},
		{"bearer_token", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-.]+`), "Bearer [TOKEN_REDACTED]"},
		{"jwt_token", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`), "[JWT_REDACTED]"},
		{"url_password", regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`), "://[USER_REDACTED]:[PASSWORD_REDACTED]@"},
		{"password_assignment", regexp.MustCompile(`(?i)(?:password|passwd|pwd|secret|credential|auth_token)\s*[=:]\s*["']?[^\s"']{4,}["']?`), "[PASSWORD_REDACTED]"},
		{"private_key", regexp.MustCompile(`(?is)-----BEGIN\s+(?:RSA\s+)?(?:PRIVATE|ENCRYPTED)\s+KEY-----.*?-----END\s+(?:RSA\s+)?(?:PRIVATE|ENCRYPTED)\s+KEY-----`), "[PRIVATE_KEY_REDACTED]"},
		{"ssh_key", regexp.MustCompile(`(?is)-----BEGIN\s+(?:DSA|EC|OPENSSH)\s+PRIVATE\s+KEY-----.*?-----END\s+(?:DSA|EC|OPENSSH)\s+PRIVATE\s+KEY-----`), "[SSH_KEY_REDACTED]"},
		{"jenkins_token", regexp.MustCompile(`(?i)(?:JENKINS_API_TOKEN|jenkins_token|J_API_TOKEN)\s*[=:]\s*["']?[A-Za-z0-9]{32,}["']?`), "[JENKINS_TOKEN_REDACTED]"},
		{"base64_credentials", regexp.MustCompile(`(?i)(?:basic|auth|credentials?|authorization)\s*[=:]\s*["']?[A-Za-z0-9+/]{40,}={0,2}["']?`), "[BASE64_CREDENTIALS_REDACTED]"},
		{"slack_token", regexp.MustCompile(`\bxox[bpar]-[A-Za-z0-9\-]+`), "[SLACK_TOKEN_REDACTED]"},
		{"npm_token", regexp.MustCompile(`\bnpm_[A-Za-z0-9]{36}\b`), "[NPM_TOKEN_REDACTED]"},
		{"docker_auth", regexp.MustCompile(`"auth"\s*:\s*"[A-Za-z0-9+/=]{20,}"`), `"auth": "[DOCKER_AUTH_REDACTED]"`},
		{"docker_login", regexp.MustCompile(`(docker\s+login\b[^\n]*?\s-p\s+)\S+`), "${1}[REDACTED]"},
		{"hex_secret", regexp.MustCompile(`(?i)(?:secret|token|key|hash)\s*[=:]\s*["']?[a-fA-F0-9]{32,}["']?`), "[HEX_SECRET_REDACTED]"},
		{"export_secret", regexp.MustCompile(`(?i)export\s+(?:API_KEY|SECRET|TOKEN|PASSWORD|CREDENTIALS?|AUTH)[A-Z_0-9]*\s*=\s*["']?[^\s"']+["']?`), "export [VAR_REDACTED]=[VALUE_REDACTED]"},
	}
}

// Sanitizer applies an ordered list of patterns.
type Sanitizer struct {
	patterns []Pattern
}

// New returns a sanitizer with the default patterns followed by the
// configured ones.
func New(cfg Config) (*Sanitizer, error) {
	patterns := DefaultPatterns()
	for i, pc := range cfg.Patterns {
		re, err := regexp.Compile(pc.Regex)
		if err != nil {
			return nil, fmt.Errorf("sanitizer pattern %d (%s): %w", i, pc.Name, err)
		}
		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("custom_%d", i)
		}
		replacement := pc.Replacement
		if replacement == "" {
			replacement = "[REDACTED]"
		}
		patterns = append(patterns, Pattern{Name: name, Regexp: re, Replacement: replacement})
	}
	return &Sanitizer{patterns: patterns}, nil
}

// Default returns a sanitizer with only the built-in patterns.
func Default() *Sanitizer {
	return &Sanitizer{patterns: DefaultPatterns()}
}

// Sanitize masks every match and returns the clean text with the names of
// the patterns that matched, in application order.
func (s *Sanitizer) Sanitize(text string) (string, []string) {
	var kinds []string
	for _, p := range s.patterns {
		if !p.Regexp.MatchString(text) {
			continue
		}
		kinds = append(kinds, p.Name)
		text = p.Regexp.ReplaceAllString(text, p.Replacement)
	}
	return text, kinds
}

// Names lists the pattern names in application order.
func (s *Sanitizer) Names() []string {
	names := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		names[i] = p.Name
	}
	return names
}
