package config

import "time"

type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`

	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AttachmentConfig bounds uploaded files.
type AttachmentConfig struct {
	MaxTextBytes  int `yaml:"max_text_bytes"`
	MaxImageBytes int `yaml:"max_image_bytes"`

	// MaxTextChars truncates text uploads before they reach the prompt.
	MaxTextChars int `yaml:"max_text_chars"`
}
