package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider produces deterministic feature-hashed term vectors without a
// network call. Each token and identifier part is hashed into one of dim
// buckets, so texts sharing vocabulary end up close under cosine similarity.
type LocalProvider struct {
	dim   int
	cache *Cache
}

// NewLocalProvider creates a local embedder. dim <= 0 uses LocalDimension.
func NewLocalProvider(dim int, cache *Cache) (*LocalProvider, error) {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalProvider{dim: dim, cache: cache}, nil
}

// GenerateEmbedding generates a single embedding
func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cacheKey(ProviderLocal, DefaultLocalModel, req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(key); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    l.embed(req.Text),
		Dimension: l.dim,
		Provider:  ProviderLocal,
		Model:     DefaultLocalModel,
		Hash:      ComputeHash(req.Text),
	}

	if l.cache != nil {
		l.cache.Set(key, emb)
	}

	return emb, nil
}

// GenerateBatch generates embeddings for multiple texts
func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      DefaultLocalModel,
	}, nil
}

func (l *LocalProvider) embed(text string) []float32 {
	vec := make([]float32, l.dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum64()%uint64(l.dim)]++
	}
	return NormalizeVector(vec)
}

// Tokenize splits text into lowercase words. Identifiers also contribute
// their camelCase and snake_case parts, so "parseConfig" yields "parseconfig",
// "parse" and "config".
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var tokens []string
	for _, w := range words {
		parts := splitIdentifier(w)
		lw := strings.ToLower(strings.Trim(w, "_"))
		if len(lw) > 1 {
			tokens = append(tokens, lw)
		}
		if len(parts) > 1 {
			for _, p := range parts {
				if len(p) > 1 {
					tokens = append(tokens, p)
				}
			}
		}
	}
	return tokens
}

// splitIdentifier breaks an identifier at underscores and case changes
func splitIdentifier(w string) []string {
	var parts []string
	var cur []rune
	runes := []rune(w)

	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if r == '_' {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return parts
}

// Dimension returns the embedding dimension
func (l *LocalProvider) Dimension() int {
	return l.dim
}

// Provider returns the provider name
func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

// Model returns the model name
func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

// Close releases resources
func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	magnitude := float32(math.Sqrt(sum))
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = val / magnitude
	}

	return normalized
}
