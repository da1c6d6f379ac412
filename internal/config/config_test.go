package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "TRANSCRIPTION_PROVIDER",
		"ASSEMBLYAI_API_KEY", "DEEPGRAM_API_KEY",
		"GOOGLE_STT_ENABLED", "MOCK_STT_ENABLED",
		"DATABASE_URL", "STREAM_IDLE_TIMEOUT",
		"KAFKA_ENABLED", "KAFKA_BROKERS",
	} {
		// Setenv registers the restore, Unsetenv makes the variable
		// truly absent so envDefault applies.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ASSEMBLYAI_API_KEY", "aai-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DefaultProvider != ProviderAssemblyAI {
		t.Errorf("DefaultProvider = %q, want assemblyai", cfg.DefaultProvider)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", cfg.IdleTimeout)
	}
	if cfg.Kafka.Enabled {
		t.Error("Kafka should default to disabled")
	}
	if cfg.Kafka.TopicTranscript != "transcript-events" {
		t.Errorf("TopicTranscript = %q", cfg.Kafka.TopicTranscript)
	}
	if cfg.IsDevelopment() {
		t.Error("Default env should not be development")
	}
}

func TestLoad_NoProviderConfigured(t *testing.T) {
	clearProviderEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("Load should fail with no backend configured")
	}
	if !strings.Contains(err.Error(), "at least one transcription backend") {
		t.Errorf("Error = %q", err)
	}
}

func TestLoad_DefaultProviderMustBeConfigured(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("TRANSCRIPTION_PROVIDER", "deepgram")
	t.Setenv("ASSEMBLYAI_API_KEY", "aai-key")

	_, err := Load()
	if err == nil {
		t.Fatal("Load should fail when the default provider has no credentials")
	}
	if !strings.Contains(err.Error(), `default provider "deepgram"`) {
		t.Errorf("Error = %q", err)
	}
}

func TestLoad_KafkaBrokersSplit(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("MOCK_STT_ENABLED", "true")
	t.Setenv("TRANSCRIPTION_PROVIDER", "mock")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate_IdleTimeout(t *testing.T) {
	cfg := &Config{MockEnabled: true, DefaultProvider: ProviderMock}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject a zero idle timeout")
	}
	cfg.IdleTimeout = 30 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestProviderConfigured(t *testing.T) {
	cfg := &Config{DeepgramKey: "dg-key", GoogleEnabled: true}

	tests := []struct {
		provider string
		want     bool
	}{
		{ProviderAssemblyAI, false},
		{ProviderDeepgram, true},
		{ProviderGoogle, true},
		{ProviderMock, false},
		{"whisper", false},
	}
	for _, tt := range tests {
		if got := cfg.ProviderConfigured(tt.provider); got != tt.want {
			t.Errorf("ProviderConfigured(%q) = %v, want %v", tt.provider, got, tt.want)
		}
	}
}

func TestKnownProvider(t *testing.T) {
	for _, p := range []string{ProviderAssemblyAI, ProviderDeepgram, ProviderGoogle, ProviderMock} {
		if !KnownProvider(p) {
			t.Errorf("KnownProvider(%q) = false", p)
		}
	}
	if KnownProvider("whisper") {
		t.Error(`KnownProvider("whisper") = true`)
	}
}

func TestAvailableProviders(t *testing.T) {
	cfg := &Config{AssemblyAIKey: "k", MockEnabled: true}
	got := cfg.AvailableProviders()
	if !got[ProviderAssemblyAI] || !got[ProviderMock] || got[ProviderDeepgram] || got[ProviderGoogle] {
		t.Errorf("AvailableProviders() = %v", got)
	}
}
