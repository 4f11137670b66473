package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "feature-hash-v1"

	// Endpoints
	JinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	OpenAIEndpoint = "https://api.openai.com/v1/embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Retry configuration
	MaxAttempts       = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// HTTPConfig describes an OpenAI-compatible embeddings endpoint
type HTTPConfig struct {
	Name      string
	Endpoint  string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
	Retry     RetryConfig
}

// HTTPProvider implements Embedder against any API that accepts {"input", "model"} and
// answers {"data": [{"embedding": [...]}], "model"}. OpenAI and Jina both do.
type HTTPProvider struct {
	cfg        HTTPConfig
	httpClient *http.Client
	cache      *Cache
}

// NewHTTPProvider creates an embedder for cfg
func NewHTTPProvider(cfg HTTPConfig, cache *Cache) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s api key not set", ErrNoProviderEnabled, cfg.Name)
	}
	if cfg.Endpoint == "" || cfg.Model == "" || cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: %s needs endpoint, model and dimension", ErrInvalidInput, cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &HTTPProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	return NewHTTPProvider(HTTPConfig{
		Name:      ProviderOpenAI,
		Endpoint:  OpenAIEndpoint,
		APIKey:    apiKey,
		Model:     DefaultOpenAIModel,
		Dimension: OpenAIDimension,
	}, cache)
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	return NewHTTPProvider(HTTPConfig{
		Name:      ProviderJina,
		Endpoint:  JinaEndpoint,
		APIKey:    apiKey,
		Model:     DefaultJinaModel,
		Dimension: JinaDimension,
	}, cache)
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if p.cache != nil {
		if emb, ok := p.cache.Get(hash); ok {
			return emb, nil
		}
	}

	vector, err := retryWithBackoff(ctx, p.cfg.Retry, func() ([]float32, error) {
		return p.callAPI(ctx, req.Text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.cfg.Name, err)
	}
	if len(vector) != p.cfg.Dimension {
		return nil, fmt.Errorf("%w: %s returned %d values, want %d",
			ErrProviderFailed, p.cfg.Name, len(vector), p.cfg.Dimension)
	}

	emb := &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Provider:  p.cfg.Name,
		Model:     p.cfg.Model,
		Hash:      hash,
	}
	if p.cache != nil {
		p.cache.Set(hash, emb)
	}
	return emb, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": []string{text},
		"model": p.cfg.Model,
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return apiResp.Data[0].Embedding, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.cfg.Dimension
}

func (p *HTTPProvider) Provider() string {
	return p.cfg.Name
}

func (p *HTTPProvider) Model() string {
	return p.cfg.Model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// NormalizeVector scales v to unit length. A zero vector is returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
