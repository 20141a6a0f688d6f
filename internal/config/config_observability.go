package config

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`

	// RedactPatterns are extra regular expressions scrubbed from log output.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables
// export.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

type MetricsConfig struct {
	// Enabled serves Prometheus metrics at /metrics.
	Enabled bool `yaml:"enabled"`
}
