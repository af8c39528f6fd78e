// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Weights.Quality != 0.6 || cfg.Weights.Cost != 0.2 || cfg.Weights.Latency != 0.2 {
		t.Errorf("unexpected default weights: %+v", cfg.Weights)
	}
	if len(cfg.Executors) == 0 {
		t.Fatal("default config has no executors")
	}
	if cfg.StageTimeout() != 2*time.Minute {
		t.Errorf("StageTimeout = %v, want 2m", cfg.StageTimeout())
	}
	if cfg.RetrainInterval() != 15*time.Minute {
		t.Errorf("RetrainInterval = %v, want 15m", cfg.RetrainInterval())
	}
	for _, exec := range cfg.Executors {
		if exec.CostPer1K <= 0 {
			t.Errorf("executor %s has no pricing", exec.ID)
		}
		if len(exec.Capabilities) == 0 {
			t.Errorf("executor %s has no capabilities", exec.ID)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `
port: "9090"
database_url: "postgres://localhost/routing"
weights:
  quality: 0.5
  cost: 0.3
  latency: 0.2
executors:
  - id: exec-a
    name: Executor A
    cost_per_1k: 0.01
    cost_score: 0.6
    latency_score: 0.3
    max_concurrent: 4
    capabilities:
      code_generation: 0.9
tiers:
  simple:
    max_tokens: 100000
    max_concurrent: 2
    max_spend_usd: 2.5
    max_requests: 50
    window_hours: 24
stage_timeout_secs: 30
retrain_interval_secs: 300
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Weights.Cost != 0.3 {
		t.Errorf("Weights.Cost = %v, want 0.3", cfg.Weights.Cost)
	}
	if len(cfg.Executors) != 1 || cfg.Executors[0].ID != "exec-a" {
		t.Errorf("executors not loaded from file: %+v", cfg.Executors)
	}
	if cfg.Executors[0].Capabilities["code_generation"] != 0.9 {
		t.Errorf("capability map not decoded: %+v", cfg.Executors[0].Capabilities)
	}

	simple, ok := cfg.Tiers["simple"]
	if !ok {
		t.Fatal("simple tier missing")
	}
	if simple.MaxTokens != 100000 || simple.Window() != 24*time.Hour {
		t.Errorf("tier limits not decoded: %+v", simple)
	}
	if cfg.StageTimeout() != 30*time.Second {
		t.Errorf("StageTimeout = %v, want 30s", cfg.StageTimeout())
	}
	if cfg.RetrainInterval() != 5*time.Minute {
		t.Errorf("RetrainInterval = %v, want 5m", cfg.RetrainInterval())
	}
}

func TestLoadBackfillsRetrainInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retrain_interval_secs: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RetrainInterval() != 15*time.Minute {
		t.Errorf("RetrainInterval = %v, want 15m default", cfg.RetrainInterval())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [not a string"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || len(cfg.Executors) == 0 {
		t.Errorf("defaults not applied: port=%q executors=%d", cfg.Port, len(cfg.Executors))
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://db/override")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("EVENTS_CHANNEL", "routing.events")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "7070" {
		t.Errorf("PORT override not applied: %q", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://db/override" {
		t.Errorf("DATABASE_URL override not applied: %q", cfg.DatabaseURL)
	}
	if cfg.Redis.Addr != "redis:6380" || cfg.Redis.Password != "hunter2" || cfg.Redis.DB != 3 {
		t.Errorf("redis overrides not applied: %+v", cfg.Redis)
	}
	if cfg.Redis.Channel != "routing.events" {
		t.Errorf("EVENTS_CHANNEL override not applied: %q", cfg.Redis.Channel)
	}
	if cfg.JWTSecret != "secret" {
		t.Errorf("JWT_SECRET override not applied")
	}
}

func TestEnvBadRedisDBIgnored(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.DB != 0 {
		t.Errorf("malformed REDIS_DB applied: %d", cfg.Redis.DB)
	}
}
