package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // openai, jina, gemini, local; empty auto-detects
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int
	CacheSize int
}

// New creates an embedder from cfg. An explicitly named remote provider
// without credentials is an error. Auto-detection that finds no credentials
// falls back to the local provider with a warning.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
		if provider == ProviderLocal {
			log.Warn().Msg("no embedding provider credentials found; using local feature-hashing embeddings")
		}
	}

	opts := OpenAIOptions{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
	}

	var (
		emb Embedder
		err error
	)
	switch provider {
	case ProviderJina:
		emb, err = NewJinaProvider(opts, cache)
	case ProviderOpenAI:
		emb, err = NewOpenAIProvider(opts, cache)
	case ProviderGemini:
		emb, err = NewGeminiProvider(ctx, GeminiOptions{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, cache)
	case ProviderLocal:
		emb, err = NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", emb.Provider()).
		Str("model", emb.Model()).
		Int("dimension", emb.Dimension()).
		Msg("embedder ready")

	return emb, nil
}

// DetectProvider returns the provider that would be used based on current environment
// Priority:
// 1. DEVCTX_EMBEDDING_PROVIDER
// 2. The first of JINA_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY that is set
// 3. local
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
	if os.Getenv(EnvGeminiAPIKey) != "" {
		return ProviderGemini
	}

	return ProviderLocal
}
