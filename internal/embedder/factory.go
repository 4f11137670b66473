package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables read by NewFromEnv and DetectProvider
const (
	EnvProvider     = "FLEETCTX_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Endpoint  string // Optional: override the provider endpoint
	Model     string // Optional: override the provider model
	Dimension int    // Required with a custom model; local provider default otherwise
	CacheSize int
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Dimension, cache)
	case ProviderOpenAI:
		return NewHTTPProvider(httpConfig(cfg, ProviderOpenAI, OpenAIEndpoint, DefaultOpenAIModel, OpenAIDimension), cache)
	case ProviderJina:
		return NewHTTPProvider(httpConfig(cfg, ProviderJina, JinaEndpoint, DefaultJinaModel, JinaDimension), cache)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

func httpConfig(cfg Config, name, endpoint, model string, dimension int) HTTPConfig {
	hc := HTTPConfig{
		Name:      name,
		Endpoint:  endpoint,
		APIKey:    cfg.APIKey,
		Model:     model,
		Dimension: dimension,
	}
	if cfg.Endpoint != "" {
		hc.Endpoint = cfg.Endpoint
	}
	if cfg.Model != "" {
		hc.Model = cfg.Model
	}
	if cfg.Dimension > 0 {
		hc.Dimension = cfg.Dimension
	}
	return hc
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
//  1. FLEETCTX_EMBEDDING_PROVIDER (jina, openai, local)
//  2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
//  3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	provider := DetectProvider()
	cfg := Config{Provider: provider, CacheSize: 10000}
	switch provider {
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	return New(cfg)
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
