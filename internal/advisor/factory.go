package advisor

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by NewFromEnv and DetectProvider
const (
	EnvProvider = "BACKPORT_ADVISOR_PROVIDER"
	EnvAPIKey   = "OPENAI_API_KEY"
	EnvModel    = "OPENAI_MODEL"
	EnvBaseURL  = "OPENAI_BASE_URL"
)

// Config holds advisor configuration
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	Temperature       float32
	RequestsPerMinute int
	CacheSize         int
	Logger            *slog.Logger
}

// New creates an advisor with explicit configuration.
// Provider "auto" (or empty) picks openai when an API key is set and the
// rule-based advisor otherwise.
func New(cfg Config) (Advisor, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" || provider == ProviderAuto {
		provider = ProviderRule
		if cfg.APIKey != "" {
			provider = ProviderOpenAI
		}
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIAdvisor(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			MaxTokens:         cfg.MaxTokens,
			Temperature:       cfg.Temperature,
			RequestsPerMinute: cfg.RequestsPerMinute,
			CacheSize:         cfg.CacheSize,
			Logger:            cfg.Logger,
		})
	case ProviderRule:
		return NewRuleAdvisor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// NewFromEnv creates an advisor based on environment variables
func NewFromEnv() (Advisor, error) {
	return New(Config{
		Provider: os.Getenv(EnvProvider),
		APIKey:   os.Getenv(EnvAPIKey),
		BaseURL:  os.Getenv(EnvBaseURL),
		Model:    os.Getenv(EnvModel),
	})
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := strings.ToLower(os.Getenv(EnvProvider))
	if provider != "" && provider != ProviderAuto {
		return provider
	}
	if os.Getenv(EnvAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderRule
}
