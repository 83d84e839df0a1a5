// Package config loads the CLI configuration: defaults, then a TOML file,
// then environment variables (env wins).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Limits   LimitsConfig   `toml:"limits"`
	Database DatabaseConfig `toml:"database"`
	Review   ReviewConfig   `toml:"review"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	Model         string `toml:"model"`
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url"`
	ContextWindow int    `toml:"context_window"`
	RPM           int    `toml:"rpm"`
	TPM           int    `toml:"tpm"`
}

type LimitsConfig struct {
	MaxIterations     int `toml:"max_iterations"`
	MaxSubagents      int `toml:"max_subagents"`
	MaxResponseChars  int `toml:"max_response_chars"`
	SubagentToolCalls int `toml:"subagent_tool_calls"`
}

type DatabaseConfig struct {
	// Driver selects the audit store: "sqlite", "postgres", or "" for none.
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type ReviewConfig struct {
	MaxFindings  int    `toml:"max_findings"`
	FailOn       string `toml:"fail_on"`
	MinChars     int    `toml:"min_chars"`
	MaxHunkLines int    `toml:"max_hunk_lines"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
		},
		Limits: LimitsConfig{
			MaxIterations:     25,
			MaxSubagents:      3,
			MaxResponseChars:  40_000,
			SubagentToolCalls: 8,
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "scry.db"},
		Review:   ReviewConfig{FailOn: "none", MinChars: 80, MaxHunkLines: 400},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "scry.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("SCRY_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SCRY_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SCRY_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SCRY_POSTGRES_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.PostgresURL = v
	}
	if os.Getenv("SCRY_OBSERVER_ENABLED") == "true" || os.Getenv("SCRY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// MaxIterations implements scry.Settings.
func (c Config) MaxIterations() int { return c.Limits.MaxIterations }

// MaxSubagentsPerSession implements scry.Settings.
func (c Config) MaxSubagentsPerSession() int { return c.Limits.MaxSubagents }

// MaxToolResponseChars implements scry.Settings.
func (c Config) MaxToolResponseChars() int { return c.Limits.MaxResponseChars }
