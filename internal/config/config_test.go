package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/frugal/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frugal.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
backends:
  - id: ollama
    type: local
    endpoint: http://localhost:11434
    models: [llama3.2:3b]
`

func TestLoadMinimalDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.KSamples != 3 {
		t.Errorf("k_samples default: got %d, want 3", cfg.Routing.KSamples)
	}
	if cfg.Routing.ConsensusThreshold != 0.67 {
		t.Errorf("consensus_threshold default: got %f, want 0.67", cfg.Routing.ConsensusThreshold)
	}
	if cfg.Routing.MaxConcurrentJobs != 1 {
		t.Errorf("max_concurrent_jobs default: got %d, want 1", cfg.Routing.MaxConcurrentJobs)
	}
	if cfg.Routing.Criteria != "cost_first" {
		t.Errorf("criteria default: got %q", cfg.Routing.Criteria)
	}
	if !cfg.Routing.SameTierRetry() {
		t.Error("retry_same_tier should default to true")
	}
	if cfg.Health.DegradedThreshold != 3 || cfg.Health.UnhealthyThreshold != 6 {
		t.Errorf("health thresholds: got %d/%d", cfg.Health.DegradedThreshold, cfg.Health.UnhealthyThreshold)
	}
	b := cfg.Backends[0]
	if !b.Enabled() {
		t.Error("backend should default to enabled")
	}
	if b.TimeoutSec != 120 {
		t.Errorf("timeout default: got %d", b.TimeoutSec)
	}
	if b.Scores.Quality != 0.5 {
		t.Errorf("score seed default: got %f", b.Scores.Quality)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
backends:
  - id: ollama
    type: local
    endpoint: http://localhost:11434
    models: [llama3.2:3b, qwen2.5-coder:7b]
    capabilities: [extract, summarize]
    concurrent: true
    scores: {quality: 0.6, speed: 0.9, cost_efficiency: 1.0, reliability: 0.8}
  - id: openrouter
    type: remote_api
    endpoint: https://openrouter.ai/api/v1
    provider: openrouter
    api_key_env: OPENROUTER_API_KEY
    models: [big-reasoner]
    scores: {quality: 0.95, speed: 0.5, cost_efficiency: 0.2, reliability: 0.9}
  - id: llamabox
    type: server_model
    image: ghcr.io/example/llamabox:latest
    command: [llamabox, --oneshot]
    models: [tinymodel]
routing:
  k_samples: 5
  consensus_threshold: 0.8
  max_retries_per_tier: 2
  retry_same_tier: false
  criteria: quality_first
budgets:
  - project: receipts
    period: daily
    ceiling_cents: 200
  - project: receipts
    ceiling_cents: 1000
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Backends) != 3 {
		t.Fatalf("expected 3 backends, got %d", len(cfg.Backends))
	}
	if cfg.Routing.KSamples != 5 {
		t.Errorf("k_samples: got %d", cfg.Routing.KSamples)
	}
	if cfg.Routing.SameTierRetry() {
		t.Error("retry_same_tier=false not honored")
	}
	if cfg.Budgets[0].Period != "daily" || cfg.Budgets[1].Period != "lifetime" {
		t.Errorf("budget periods: got %q/%q", cfg.Budgets[0].Period, cfg.Budgets[1].Period)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no backends", `routing: {k_samples: 3}`},
		{"missing endpoint", "backends:\n  - id: x\n    type: local\n    models: [m]"},
		{"missing models", "backends:\n  - id: x\n    type: local\n    endpoint: http://h"},
		{"missing type", "backends:\n  - id: x\n    endpoint: http://h\n    models: [m]"},
		{"remote without provider", "backends:\n  - id: x\n    type: remote_api\n    endpoint: http://h\n    models: [m]"},
		{"duplicate ids", minimal + "  - id: ollama\n    type: local\n    endpoint: http://h\n    models: [m]"},
		{"bad criteria", minimal + "routing: {criteria: fastest}"},
		{"bad threshold", minimal + "routing: {consensus_threshold: 1.5}"},
		{"bad period", minimal + "budgets:\n  - {project: p, period: weekly, ceiling_cents: 1}"},
		{"score out of range", "backends:\n  - id: x\n    type: local\n    endpoint: http://h\n    models: [m]\n    scores: {quality: 2}"},
	}
	for _, tt := range tests {
		if _, err := config.Load(writeConfig(t, tt.content)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("nonexistent.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPaidAllowed(t *testing.T) {
	t.Setenv(config.AllowPaidEnv, "")
	if config.PaidAllowed() {
		t.Error("paid should be disallowed by default")
	}
	t.Setenv(config.AllowPaidEnv, "1")
	if !config.PaidAllowed() {
		t.Error("FRUGAL_ALLOW_PAID=1 should allow paid backends")
	}
}
