// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Provider tags accepted by the service.
const (
	ProviderAssemblyAI = "assemblyai"
	ProviderDeepgram   = "deepgram"
	ProviderGoogle     = "google"
	ProviderMock       = "mock"
)

// Kafka holds event publisher configuration.
type Kafka struct {
	Enabled         bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers         []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicTranscript string   `env:"KAFKA_TOPIC_TRANSCRIPT" envDefault:"transcript-events"`
	TopicSession    string   `env:"KAFKA_TOPIC_SESSION" envDefault:"session-events"`
	Principal       string   `env:"KAFKA_PRINCIPAL" envDefault:"svc-transcription"`
}

// Config is the full service configuration.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Env             string        `env:"ENV" envDefault:"production"`
	DefaultProvider string        `env:"TRANSCRIPTION_PROVIDER" envDefault:"assemblyai"`
	AssemblyAIKey   string        `env:"ASSEMBLYAI_API_KEY"`
	DeepgramKey     string        `env:"DEEPGRAM_API_KEY"`
	GoogleEnabled   bool          `env:"GOOGLE_STT_ENABLED" envDefault:"false"`
	MockEnabled     bool          `env:"MOCK_STT_ENABLED" envDefault:"false"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	IdleTimeout     time.Duration `env:"STREAM_IDLE_TIMEOUT" envDefault:"30s"`
	Kafka           Kafka
}

// Load parses and validates the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration can actually serve traffic.
func (c *Config) Validate() error {
	if !c.hasAnyProvider() {
		return fmt.Errorf("at least one transcription backend must be configured " +
			"(ASSEMBLYAI_API_KEY, DEEPGRAM_API_KEY, GOOGLE_STT_ENABLED or MOCK_STT_ENABLED)")
	}
	if !c.ProviderConfigured(c.DefaultProvider) {
		return fmt.Errorf("default provider %q is not configured", c.DefaultProvider)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("STREAM_IDLE_TIMEOUT must be positive, got %v", c.IdleTimeout)
	}
	return nil
}

func (c *Config) hasAnyProvider() bool {
	return c.AssemblyAIKey != "" || c.DeepgramKey != "" || c.GoogleEnabled || c.MockEnabled
}

// ProviderConfigured reports whether the given provider tag is known and
// has its backend credentials configured.
func (c *Config) ProviderConfigured(provider string) bool {
	switch provider {
	case ProviderAssemblyAI:
		return c.AssemblyAIKey != ""
	case ProviderDeepgram:
		return c.DeepgramKey != ""
	case ProviderGoogle:
		return c.GoogleEnabled
	case ProviderMock:
		return c.MockEnabled
	default:
		return false
	}
}

// KnownProvider reports whether the tag names a supported backend at all,
// configured or not.
func KnownProvider(provider string) bool {
	switch provider {
	case ProviderAssemblyAI, ProviderDeepgram, ProviderGoogle, ProviderMock:
		return true
	}
	return false
}

// AvailableProviders maps each provider tag to whether it is configured.
func (c *Config) AvailableProviders() map[string]bool {
	return map[string]bool{
		ProviderAssemblyAI: c.ProviderConfigured(ProviderAssemblyAI),
		ProviderDeepgram:   c.ProviderConfigured(ProviderDeepgram),
		ProviderGoogle:     c.ProviderConfigured(ProviderGoogle),
		ProviderMock:       c.ProviderConfigured(ProviderMock),
	}
}

// IsDevelopment returns true when running with ENV=dev.
func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}
