package embedder

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiProvider implements Embedder using the Gemini API
type GeminiProvider struct {
	model    string
	dim      int
	taskType string
	client   *genai.Client
	cache    *Cache
}

// GeminiOptions configures a Gemini provider
type GeminiOptions struct {
	APIKey    string
	Model     string
	Dimension int
	// TaskType is passed through to the API; RETRIEVAL_DOCUMENT when empty
	TaskType string
}

// NewGeminiProvider creates a new Gemini embedder
func NewGeminiProvider(ctx context.Context, opts GeminiOptions, cache *Cache) (*GeminiProvider, error) {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv(EnvGeminiAPIKey)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.TaskType == "" {
		opts.TaskType = "RETRIEVAL_DOCUMENT"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", ErrProviderFailed, err)
	}

	dim := opts.Dimension
	if dim <= 0 {
		dim = dimensionFor(opts.Model, GeminiDimension)
	}

	return &GeminiProvider{
		model:    opts.Model,
		dim:      dim,
		taskType: opts.TaskType,
		client:   client,
		cache:    cache,
	}, nil
}

// GenerateEmbedding generates a single embedding
func (p *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
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
func (p *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
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

	embeddings, err := generateCached(ctx, p.cache, ProviderGemini, model, p.dim, req.Texts, p.call)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderGemini,
		Model:      model,
	}, nil
}

func (p *GeminiProvider) call(ctx context.Context, texts []string, model string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	resp, err := p.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		TaskType: p.taskType,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Dimension returns the embedding dimension
func (p *GeminiProvider) Dimension() int {
	return p.dim
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return ProviderGemini
}

// Model returns the model name
func (p *GeminiProvider) Model() string {
	return p.model
}

// Close releases resources
func (p *GeminiProvider) Close() error {
	return nil
}
