// Package config loads parleyd configuration from TOML with env overrides.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	LLM      LLMConfig      `toml:"llm"`
	Clarity  ClarityConfig  `toml:"clarity"`
	Database DatabaseConfig `toml:"database"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Fetch    FetchConfig    `toml:"fetch"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// HandlerErrorDetail surfaces truncated handler failure details in the
	// fallback message. Keep off in production.
	HandlerErrorDetail bool `toml:"handler_error_detail"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
	// MaxRetries bounds retry attempts on transient provider errors (429,
	// 503). Zero disables retrying.
	MaxRetries int `toml:"max_retries"`
	// RPM and TPM cap provider request and token throughput per minute.
	// Zero disables the respective limit.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

// ClarityConfig optionally points the clarity pre-check at a smaller,
// cheaper model than the main one.
type ClarityConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	Path   string `toml:"path"` // sqlite file path
	DSN    string `toml:"dsn"`  // postgres connection string
}

type SandboxConfig struct {
	NodeBin        string `toml:"node_bin"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Workspace      string `toml:"workspace"`
}

type FetchConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		LLM:      LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash", MaxRetries: 3},
		Clarity:  ClarityConfig{Provider: "gemini", Model: "gemini-2.5-flash-lite"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "parley.db"},
		Sandbox:  SandboxConfig{NodeBin: "node", TimeoutSeconds: 60},
		Fetch:    FetchConfig{TimeoutSeconds: 15},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "parley.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PARLEY_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PARLEY_CLARITY_API_KEY"); v != "" {
		cfg.Clarity.APIKey = v
	}
	if v := os.Getenv("PARLEY_DATABASE_DSN"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PARLEY_NODE_BIN"); v != "" {
		cfg.Sandbox.NodeBin = v
	}
	if os.Getenv("PARLEY_OBSERVER_ENABLED") == "true" || os.Getenv("PARLEY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Clarity.Provider == "" {
		cfg.Clarity.Provider = cfg.LLM.Provider
		cfg.Clarity.Model = cfg.LLM.Model
	}
	if cfg.Clarity.APIKey == "" {
		cfg.Clarity.APIKey = cfg.LLM.APIKey
	}
	if cfg.Clarity.BaseURL == "" && cfg.Clarity.Provider == cfg.LLM.Provider {
		cfg.Clarity.BaseURL = cfg.LLM.BaseURL
	}

	return cfg
}
