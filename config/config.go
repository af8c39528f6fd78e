// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

// Package config loads the routing service configuration from an
// optional YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutorConfig describes one executor in the catalog
type ExecutorConfig struct {
	ID            string             `yaml:"id" json:"id"`
	Name          string             `yaml:"name" json:"name"`
	CostPer1K     float64            `yaml:"cost_per_1k" json:"cost_per_1k"`
	CostScore     float64            `yaml:"cost_score" json:"cost_score"`
	LatencyScore  float64            `yaml:"latency_score" json:"latency_score"`
	MaxContext    int                `yaml:"max_context" json:"max_context"`
	MaxConcurrent int                `yaml:"max_concurrent" json:"max_concurrent"`
	Capabilities  map[string]float64 `yaml:"capabilities" json:"capabilities"`
}

// TierLimits overrides the built-in budget limits for one tier
type TierLimits struct {
	MaxTokens     int64   `yaml:"max_tokens" json:"max_tokens"`
	MaxConcurrent int     `yaml:"max_concurrent" json:"max_concurrent"`
	MaxSpendUSD   float64 `yaml:"max_spend_usd" json:"max_spend_usd"`
	MaxRequests   int64   `yaml:"max_requests" json:"max_requests"`
	WindowHours   int     `yaml:"window_hours" json:"window_hours"`
}

// Window returns the rolling window as a duration
func (t TierLimits) Window() time.Duration {
	return time.Duration(t.WindowHours) * time.Hour
}

// Weights are the router's scoring weights as configured
type Weights struct {
	Quality float64 `yaml:"quality" json:"quality"`
	Cost    float64 `yaml:"cost" json:"cost"`
	Latency float64 `yaml:"latency" json:"latency"`
}

// RedisSettings configure the event notifier
type RedisSettings struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// Config is the full service configuration
type Config struct {
	Port                string                `yaml:"port" json:"port"`
	DatabaseURL         string                `yaml:"database_url" json:"database_url"`
	Redis               RedisSettings         `yaml:"redis" json:"redis"`
	JWTSecret           string                `yaml:"jwt_secret" json:"-"`
	Weights             Weights               `yaml:"weights" json:"weights"`
	Executors           []ExecutorConfig      `yaml:"executors" json:"executors"`
	Tiers               map[string]TierLimits `yaml:"tiers" json:"tiers"`
	StageTimeoutSecs    int                   `yaml:"stage_timeout_secs" json:"stage_timeout_secs"`
	RetrainIntervalSecs int                   `yaml:"retrain_interval_secs" json:"retrain_interval_secs"`
}

// Default returns the built-in configuration used when no file or
// overrides are present
func Default() *Config {
	return &Config{
		Port:    "8080",
		Weights: Weights{Quality: 0.6, Cost: 0.2, Latency: 0.2},
		Redis: RedisSettings{
			Addr:    "localhost:6379",
			Channel: "codecompanion.events",
		},
		Executors: []ExecutorConfig{
			{
				ID: "claude-sonnet", Name: "Claude Sonnet",
				CostPer1K: 0.009, CostScore: 0.7, LatencyScore: 0.3,
				MaxContext: 200000, MaxConcurrent: 8,
				Capabilities: map[string]float64{
					"architecture": 0.9, "code_generation": 0.9, "code_review": 0.9,
					"debugging": 0.85, "documentation": 0.85, "analysis": 0.9,
					"testing": 0.85, "general": 0.85,
				},
			},
			{
				ID: "claude-haiku", Name: "Claude Haiku",
				CostPer1K: 0.0024, CostScore: 0.95, LatencyScore: 0.1,
				MaxContext: 200000, MaxConcurrent: 16,
				Capabilities: map[string]float64{
					"code_generation": 0.75, "documentation": 0.8, "testing": 0.75,
					"general": 0.7,
				},
			},
		},
		StageTimeoutSecs:    120,
		RetrainIntervalSecs: 900,
	}
}

// Load reads the YAML file at path (empty path skips the file), applies
// defaults for anything unset, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = Weights{Quality: 0.6, Cost: 0.2, Latency: 0.2}
	}
	if cfg.StageTimeoutSecs <= 0 {
		cfg.StageTimeoutSecs = 120
	}
	if cfg.RetrainIntervalSecs <= 0 {
		cfg.RetrainIntervalSecs = 900
	}
	return cfg, nil
}

// applyEnv layers environment variables over the loaded file
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("EVENTS_CHANNEL"); v != "" {
		cfg.Redis.Channel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}

// StageTimeout returns the cascade stage timeout as a duration
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSecs) * time.Second
}

// RetrainInterval returns the maintenance-loop cadence as a duration
func (c *Config) RetrainInterval() time.Duration {
	return time.Duration(c.RetrainIntervalSecs) * time.Second
}
