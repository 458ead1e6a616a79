package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "periscope.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("PERISCOPE_AI_PROVIDER", "")

	cfg, err := Load(writeConfig(t, "app:\n  debug: false\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AI.Provider != "gemini" {
		t.Errorf("Expected default provider gemini, got %s", cfg.AI.Provider)
	}
	if cfg.Pipeline.SimilarityThreshold != 0.7 {
		t.Errorf("Expected similarity threshold 0.7, got %f", cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Pipeline.MinContentLength != 100 {
		t.Errorf("Expected min content length 100, got %d", cfg.Pipeline.MinContentLength)
	}
	if got := Duration(cfg.Cache.TTL.Relevance, 0); got != 24*time.Hour {
		t.Errorf("Expected relevance TTL 24h, got %v", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("PERISCOPE_AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.Provider != "openai" {
		t.Errorf("Expected provider openai, got %s", cfg.AI.Provider)
	}
	if cfg.AI.APIKey() != "sk-test" {
		t.Errorf("Expected OpenAI key from env, got %q", cfg.AI.APIKey())
	}
	if cfg.AI.Model() != "gpt-4o-mini" {
		t.Errorf("Expected default OpenAI model, got %s", cfg.AI.Model())
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected file value for logging level, got %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("PERISCOPE_AI_PROVIDER", "")

	_, err := Load(writeConfig(t, "cache:\n  backend: redis\npipeline:\n  similarity_threshold: 1.5\n"))
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "cache backend") || !strings.Contains(err.Error(), "similarity_threshold") {
		t.Errorf("Expected both problems reported, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("PERISCOPE_AI_PROVIDER", "")

	_, err := Load(writeConfig(t, "fetch:\n  timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "fetch.timeout") {
		t.Errorf("Expected invalid duration error, got %v", err)
	}
}

func TestIsValidAPIKey(t *testing.T) {
	if isValidAPIKey("") || isValidAPIKey("YOUR_API_KEY") {
		t.Error("Expected empty and placeholder keys to be invalid")
	}
	if !isValidAPIKey("AIza-real") {
		t.Error("Expected real-looking key to be valid")
	}
}
