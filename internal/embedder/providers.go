package embedder

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGeminiModel = "text-embedding-004"
	DefaultLocalModel  = "feature-hash"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	GeminiDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	JinaBaseURL = "https://api.jina.ai/v1"
)

// Environment variables consulted when no key is configured explicitly
const (
	EnvProvider     = "DEVCTX_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// knownDimensions maps models with a fixed output size
var knownDimensions = map[string]int{
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"text-embedding-ada-002":       1536,
	"jina-embeddings-v3":           1024,
	"jina-embeddings-v2-base-en":   768,
	"jina-embeddings-v2-base-code": 768,
	"text-embedding-004":           768,
	"gemini-embedding-001":         3072,
}

// OpenAICompatibleProvider implements Embedder for any service speaking the
// OpenAI embeddings API. OpenAI and Jina both use it.
type OpenAICompatibleProvider struct {
	name   string
	model  string
	dim    int
	client *openai.Client
	cache  *Cache
}

// OpenAIOptions configures an OpenAI-compatible provider. Zero values take
// the provider defaults.
type OpenAIOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(opts OpenAIOptions, cache *Cache) (*OpenAICompatibleProvider, error) {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	return newOpenAICompatible(ProviderOpenAI, opts, OpenAIDimension, cache), nil
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(opts OpenAIOptions, cache *Cache) (*OpenAICompatibleProvider, error) {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv(EnvJinaAPIKey)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultJinaModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = JinaBaseURL
	}
	return newOpenAICompatible(ProviderJina, opts, JinaDimension, cache), nil
}

func newOpenAICompatible(name string, opts OpenAIOptions, defaultDim int, cache *Cache) *OpenAICompatibleProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	dim := opts.Dimension
	if dim <= 0 {
		dim = dimensionFor(opts.Model, defaultDim)
	}

	return &OpenAICompatibleProvider{
		name:   name,
		model:  opts.Model,
		dim:    dim,
		client: openai.NewClientWithConfig(cfg),
		cache:  cache,
	}
}

func dimensionFor(model string, fallback int) int {
	if d, ok := knownDimensions[model]; ok {
		return d
	}
	return fallback
}

// GenerateEmbedding generates a single embedding
func (p *OpenAICompatibleProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch generates embeddings for multiple texts
func (p *OpenAICompatibleProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d texts (max %d)", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	embeddings, err := generateCached(ctx, p.cache, p.name, model, p.dim, req.Texts, p.call)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

func (p *OpenAICompatibleProvider) call(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		copy(vec, d.Embedding)
		vectors[d.Index] = vec
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// Dimension returns the embedding dimension
func (p *OpenAICompatibleProvider) Dimension() int {
	return p.dim
}

// Provider returns the provider name
func (p *OpenAICompatibleProvider) Provider() string {
	return p.name
}

// Model returns the model name
func (p *OpenAICompatibleProvider) Model() string {
	return p.model
}

// Close releases resources
func (p *OpenAICompatibleProvider) Close() error {
	return nil
}
