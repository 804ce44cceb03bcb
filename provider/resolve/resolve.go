// Package resolve constructs chat providers from declarative configuration.
// It lets callers pick a provider by name (from config files or environment)
// without importing every provider package themselves.
package resolve

import (
	"fmt"
	"strings"

	parley "github.com/novandi/parley"
	"github.com/novandi/parley/provider/gemini"
	"github.com/novandi/parley/provider/openaicompat"
)

// Config describes a provider to construct.
type Config struct {
	// Provider name: "gemini", "openai", "groq", "deepseek", "together",
	// "mistral", or "ollama".
	Provider string
	APIKey   string
	Model    string
	// BaseURL overrides the provider's default endpoint. Required for
	// OpenAI-compatible servers without a known default.
	BaseURL string

	Temperature float64
	TopP        float64
}

// defaultBaseURL maps OpenAI-compatible provider names to their endpoints.
var defaultBaseURL = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"together": "https://api.together.xyz/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"ollama":   "http://localhost:11434/v1",
}

// Provider constructs a chat provider from cfg.
func Provider(cfg Config) (parley.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return nil, fmt.Errorf("resolve: provider name is empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("resolve: model is required for provider %q", name)
	}

	switch name {
	case "gemini":
		var opts []gemini.Option
		if cfg.Temperature != 0 {
			opts = append(opts, gemini.WithTemperature(cfg.Temperature))
		}
		if cfg.TopP != 0 {
			opts = append(opts, gemini.WithTopP(cfg.TopP))
		}
		return gemini.New(cfg.APIKey, cfg.Model, opts...), nil
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL[name]
		}
		if baseURL == "" {
			return nil, fmt.Errorf("resolve: unknown provider %q and no base URL given", name)
		}

		var reqOpts []openaicompat.Option
		if cfg.Temperature != 0 {
			reqOpts = append(reqOpts, openaicompat.WithTemperature(cfg.Temperature))
		}
		if cfg.TopP != 0 {
			reqOpts = append(reqOpts, openaicompat.WithTopP(cfg.TopP))
		}

		popts := []openaicompat.ProviderOption{openaicompat.WithName(name)}
		if len(reqOpts) > 0 {
			popts = append(popts, openaicompat.WithRequestOptions(reqOpts...))
		}
		return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, popts...), nil
	}
}
