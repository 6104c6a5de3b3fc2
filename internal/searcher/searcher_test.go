package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devctx/internal/chunker"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/storage"
	"github.com/dshills/devctx/internal/vectorindex"
	"github.com/dshills/devctx/pkg/types"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

var queryVector = []float32{1, 0, 0, 0}

// fixedEmbedder embeds every query as queryVector and records what it was asked
type fixedEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
	texts []string
}

func (f *fixedEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, req.Text)
	if f.err != nil {
		return nil, f.err
	}
	vec := append([]float32(nil), queryVector...)
	return &embedder.Embedding{Vector: vec, Dimension: len(vec), Provider: "mock", Model: "fixed"}, nil
}

func (f *fixedEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{Provider: "mock", Model: "fixed"}
	for _, text := range req.Texts {
		e, err := f.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		resp.Embeddings = append(resp.Embeddings, e)
	}
	return resp, nil
}

func (f *fixedEmbedder) Dimension() int   { return len(queryVector) }
func (f *fixedEmbedder) Provider() string { return "mock" }
func (f *fixedEmbedder) Model() string    { return "fixed" }
func (f *fixedEmbedder) Close() error     { return nil }

func (f *fixedEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fixedEmbedder) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

// seed is one chunk with a chosen cosine similarity to queryVector
type seed struct {
	path  string
	start int
	text  string
	sim   float64
}

// simVector returns a unit vector whose cosine with queryVector is sim
func simVector(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim)), 0, 0}
}

func setupTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedCorpus writes files, chunks, vectors and a manifest in one transaction
func seedCorpus(t *testing.T, store storage.Storage, embedderID string, seeds []seed) *types.CorpusManifest {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	files := make(map[string]bool)
	idx := vectorindex.New(len(queryVector))
	records := make([]*types.ChunkRecord, 0, len(seeds))
	for _, s := range seeds {
		if !files[s.path] {
			files[s.path] = true
			require.NoError(t, tx.UpsertFile(ctx, &storage.File{
				Path:         s.path,
				ContentHash:  sha256.Sum256([]byte(s.path)),
				ModTime:      now,
				Size:         1,
				DocumentKind: types.KindCode,
				Language:     "go",
				IndexedAt:    now,
			}))
		}
		rec := &types.ChunkRecord{
			ID:           chunker.ChunkID(s.path, s.start),
			SourceFile:   s.path,
			OffsetStart:  s.start,
			OffsetEnd:    s.start + len(s.text),
			Text:         s.text,
			DocumentKind: types.KindCode,
			Language:     "go",
			CreatedAt:    now,
		}
		rec.ComputeContentHash()
		records = append(records, rec)
		require.NoError(t, idx.Insert(rec.ID, simVector(s.sim)))
	}
	require.NoError(t, tx.UpsertChunks(ctx, records))
	require.NoError(t, tx.SaveVectorIndex(ctx, idx))

	manifest := &types.CorpusManifest{
		DocCount:        len(files),
		ChunkCount:      len(records),
		EmbedderID:      embedderID,
		Dimension:       len(queryVector),
		ChunkSize:       200,
		ChunkOverlap:    20,
		DocChunkSize:    200,
		DocChunkOverlap: 20,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, tx.SaveManifest(ctx, manifest))
	require.NoError(t, tx.Commit())
	return manifest
}

func newTestSearcher(t *testing.T, seeds []seed) (*Searcher, *fixedEmbedder, *storage.SQLiteStorage) {
	t.Helper()
	store := setupTestStorage(t)
	emb := &fixedEmbedder{}
	if seeds != nil {
		seedCorpus(t, store, embedder.ID(emb), seeds)
	}
	return New(store, emb), emb, store
}

func paths(results []types.RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.SourceFile
	}
	return out
}

func offsets(results []types.RetrievalResult) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Metadata.OffsetStart
	}
	return out
}

func assertNonIncreasing(t *testing.T, results []types.RetrievalResult) {
	t.Helper()
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score, "result %d", i)
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	s, emb, _ := newTestSearcher(t, nil)

	resp, err := s.Retrieve(context.Background(), Request{Query: "anything", K: 5, UseHybrid: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.TotalFound)
	assert.Equal(t, 0, emb.callCount(), "empty corpus must not call the provider")
}

func TestRetrieve_InvalidRequest(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{{path: "a.go", text: "package a", sim: 0.9}})

	_, err := s.Retrieve(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Retrieve(context.Background(), Request{Query: "q", MinSimilarity: 1.5})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = s.Retrieve(context.Background(), Request{Query: "q", ContextWindow: -1})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestRetrieve_EmbedderMismatch(t *testing.T) {
	store := setupTestStorage(t)
	seedCorpus(t, store, "other:model:4", []seed{{path: "a.go", text: "package a", sim: 0.9}})
	emb := &fixedEmbedder{}

	_, err := New(store, emb).Retrieve(context.Background(), Request{Query: "package", K: 3})
	assert.ErrorIs(t, err, types.ErrEmbedderMismatch)
	assert.Equal(t, 0, emb.callCount())
}

func TestRetrieve_ProviderFailure(t *testing.T) {
	s, emb, _ := newTestSearcher(t, []seed{{path: "a.go", text: "package a", sim: 0.9}})
	emb.err = errors.New("connection refused")

	resp, err := s.Retrieve(context.Background(), Request{Query: "package", K: 3})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestRetrieve_ThresholdEnforced(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{
		{path: "a.go", text: "func a() {}", sim: 0.95},
		{path: "b.go", text: "func b() {}", sim: 0.6},
		{path: "c.go", text: "func c() {}", sim: 0.3},
	})

	for _, hybrid := range []bool{false, true} {
		resp, err := s.Retrieve(context.Background(), Request{
			Query:         "func",
			K:             10,
			UseHybrid:     hybrid,
			UseReranking:  true,
			MinSimilarity: 0.5,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.go", "b.go"}, paths(resp.Results))
		assert.Equal(t, 2, resp.TotalFound, "dropped candidates are not counted")
		for _, r := range resp.Results {
			assert.GreaterOrEqual(t, r.Score, 0.5)
			assert.LessOrEqual(t, r.Score, 1.0)
		}
	}
}

func TestGatherCandidates_VectorSearchThreshold(t *testing.T) {
	_, _, store := newTestSearcher(t, []seed{
		{path: "a.go", text: "func a() {}", sim: 0.95},
		{path: "b.go", text: "func b() {}", sim: 0.6},
		{path: "c.go", text: "func c() {}", sim: 0.3},
	})
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	req := Request{Query: "func", K: 10, MinSimilarity: 0.5}
	pool, err := gatherCandidates(ctx, tx, req, &Expansion{Query: req.Query}, queryVector)
	require.NoError(t, err)
	assert.Len(t, pool, 2)
	for _, c := range pool {
		assert.GreaterOrEqual(t, c.similarity, 0.5)
	}

	// keyword candidates are not thresholded by storage; ranking drops them
	req.UseHybrid = true
	pool, err = gatherCandidates(ctx, tx, req, &Expansion{Query: req.Query}, queryVector)
	require.NoError(t, err)
	require.Len(t, pool, 3)
	low := pool[chunker.ChunkID("c.go", 0)]
	require.NotNil(t, low)
	assert.True(t, low.fromKeyword)
	assert.False(t, low.fromVector)
}

func TestRetrieve_NothingAboveThreshold(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{
		{path: "auth.go", text: "func login() {}", sim: 0.5},
		{path: "setup.md", text: "Install the tool", sim: 0.3},
	})

	resp, err := s.Retrieve(context.Background(), Request{
		Query:             "authentication setup",
		K:                 5,
		UseHybrid:         true,
		UseQueryExpansion: true,
		UseReranking:      true,
		MinSimilarity:     0.9,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.TotalFound)
}

func TestRetrieve_ScopeRespected(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{
		{path: "a.go", text: "func a() {}", sim: 0.7},
		{path: "b.go", text: "func b() {}", sim: 0.99},
		{path: "c.go", text: "func c() {}", sim: 0.6},
		{path: "internal/auth/b_auth.go", text: "func login() {}", sim: 0.98},
	})

	resp, err := s.Retrieve(context.Background(), Request{
		Query:             "login auth",
		FileScope:         []string{"a.go", "c.go"},
		K:                 10,
		UseHybrid:         true,
		UseQueryExpansion: true,
		UseReranking:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "c.go"}, paths(resp.Results))
	for _, r := range resp.Results {
		assert.NotContains(t, r.RelevanceFactors, types.FactorFileHint)
	}
}

func TestRetrieve_TieBreak(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{
		{path: "pkg/long/name.go", text: "alpha", sim: 0.8},
		{path: "x.go", start: 100, text: "beta", sim: 0.8},
		{path: "x.go", text: "gamma", sim: 0.8},
	})

	resp, err := s.Retrieve(context.Background(), Request{Query: "delta", K: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"x.go", "x.go", "pkg/long/name.go"}, paths(resp.Results))
	assert.Equal(t, []int{0, 100, 0}, offsets(resp.Results))
	assert.Equal(t, "vector", resp.Strategy)

	again, err := s.Retrieve(context.Background(), Request{Query: "delta", K: 10})
	require.NoError(t, err)
	assert.Equal(t, resp.Results, again.Results)
}

func TestRetrieve_HybridRewardsExactIdentifier(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{
		{path: "a.go", text: "func other() {}", sim: 0.8},
		{path: "internal/config/loader.go", text: "func parseConfig() {}", sim: 0.8},
	})

	vectorOnly, err := s.Retrieve(context.Background(), Request{Query: "parseConfig", K: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "internal/config/loader.go"}, paths(vectorOnly.Results))

	hybrid, err := s.Retrieve(context.Background(), Request{Query: "parseConfig", K: 2, UseHybrid: true})
	require.NoError(t, err)
	require.Len(t, hybrid.Results, 2)
	top := hybrid.Results[0]
	assert.Equal(t, "internal/config/loader.go", top.SourceFile)
	assert.Greater(t, top.Score, hybrid.Results[1].Score)
	assert.Contains(t, top.RelevanceFactors, types.FactorExactIdentifier)
	assert.Contains(t, top.RelevanceFactors, types.FactorKeywordOverlap)
	assert.Contains(t, top.RelevanceFactors, types.FactorPathMatch)
	assert.Equal(t, "hybrid", hybrid.Strategy)

	// Lexical signals never push similarity past 1 or below itself
	assert.LessOrEqual(t, top.Score, 1.0)
	assert.GreaterOrEqual(t, top.Score, 0.79)
}

func TestRetrieve_KeywordCandidates(t *testing.T) {
	seeds := make([]seed, 0, 25)
	for i := 0; i < 25; i++ {
		text := "filler text number " + string(rune('a'+i))
		if i == 24 {
			text = "the zanzibar gateway"
		}
		seeds = append(seeds, seed{
			path: "f" + string(rune('a'+i)) + ".go",
			text: text,
			sim:  0.9 - float64(i)*0.02,
		})
	}
	s, _, _ := newTestSearcher(t, seeds)

	// k=1 fetches max(4, 21) vector candidates
	vectorOnly, err := s.Retrieve(context.Background(), Request{Query: "zanzibar", K: 1})
	require.NoError(t, err)
	assert.Equal(t, 21, vectorOnly.TotalFound)

	hybrid, err := s.Retrieve(context.Background(), Request{Query: "zanzibar", K: 1, UseHybrid: true})
	require.NoError(t, err)
	assert.Equal(t, 22, hybrid.TotalFound, "keyword match joins the candidate set")

	all, err := s.Retrieve(context.Background(), Request{Query: "zanzibar", K: 25, UseHybrid: true, MinSimilarity: 0.4})
	require.NoError(t, err)
	var found bool
	for _, r := range all.Results {
		if r.SourceFile == "fy.go" {
			found = true
			assert.Contains(t, r.RelevanceFactors, types.FactorVectorBelowMedian)
			assert.Contains(t, r.RelevanceFactors, types.FactorKeywordOverlap)
		}
	}
	assert.True(t, found)
}

func TestRetrieve_RerankCapsChunksPerFile(t *testing.T) {
	body := strings.Repeat("x", 50)
	seeds := []seed{
		{path: "a.go", start: 0, text: body, sim: 0.99},
		{path: "a.go", start: 200, text: body, sim: 0.98},
		{path: "a.go", start: 400, text: body, sim: 0.97},
		{path: "a.go", start: 600, text: body, sim: 0.96},
		{path: "b.go", text: body, sim: 0.5},
		{path: "c.go", text: body, sim: 0.4},
	}
	s, _, _ := newTestSearcher(t, seeds)

	plain, err := s.Retrieve(context.Background(), Request{Query: "x", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "a.go", "a.go"}, paths(plain.Results))

	reranked, err := s.Retrieve(context.Background(), Request{Query: "x", K: 3, UseReranking: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "a.go", "b.go"}, paths(reranked.Results))
	assert.Equal(t, []int{0, 200, 0}, offsets(reranked.Results))
	assert.Equal(t, "vector+rerank", reranked.Strategy)
	assertNonIncreasing(t, reranked.Results)
}

func TestRetrieve_RerankFillsFromDeferred(t *testing.T) {
	body := strings.Repeat("y", 50)
	s, _, _ := newTestSearcher(t, []seed{
		{path: "a.go", start: 0, text: body, sim: 0.99},
		{path: "a.go", start: 200, text: body, sim: 0.98},
		{path: "a.go", start: 400, text: body, sim: 0.97},
	})

	resp, err := s.Retrieve(context.Background(), Request{Query: "y", K: 3, UseReranking: true, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []int{0, 200, 400}, offsets(resp.Results))

	last := resp.Results[2]
	assert.Contains(t, last.RelevanceFactors, types.FactorNearDuplicate)
	assert.NotContains(t, resp.Results[0].RelevanceFactors, types.FactorNearDuplicate)
	assert.GreaterOrEqual(t, last.Score, 0.5)
	assertNonIncreasing(t, resp.Results)
}

func TestRetrieve_RerankSkipsOverlappingNeighbours(t *testing.T) {
	body := strings.Repeat("z", 200)
	s, _, _ := newTestSearcher(t, []seed{
		{path: "a.go", start: 0, text: body, sim: 0.95},
		{path: "a.go", start: 180, text: body, sim: 0.94},
		{path: "b.go", text: "short", sim: 0.5},
	})

	resp, err := s.Retrieve(context.Background(), Request{Query: "z", K: 2, UseReranking: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths(resp.Results))
}

func TestRetrieve_QueryExpansion(t *testing.T) {
	s, emb, _ := newTestSearcher(t, []seed{
		{path: "main.go", text: "func main() {}", sim: 0.9},
		{path: "internal/auth/session.go", text: "func newSession() {}", sim: 0.4},
	})

	resp, err := s.Retrieve(context.Background(), Request{
		Query:             "login flow",
		K:                 5,
		UseHybrid:         true,
		UseQueryExpansion: true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.ExpandedQuery, "login flow authentication"))
	assert.Equal(t, resp.ExpandedQuery, emb.lastText(), "the expanded query is embedded")
	assert.Equal(t, "hybrid+expansion", resp.Strategy)

	var hinted bool
	for _, r := range resp.Results {
		if r.SourceFile == "internal/auth/session.go" {
			hinted = true
			assert.Contains(t, r.RelevanceFactors, types.FactorFileHint)
		}
	}
	assert.True(t, hinted)

	// No rule fires
	plain, err := s.Retrieve(context.Background(), Request{Query: "banana", K: 5, UseQueryExpansion: true})
	require.NoError(t, err)
	assert.Empty(t, plain.ExpandedQuery)
	assert.Equal(t, "banana", emb.lastText())
	assert.Equal(t, "vector", plain.Strategy)
}

func TestRetrieve_LineAnchorsAndContext(t *testing.T) {
	s, _, _ := newTestSearcher(t, []seed{
		{path: "ctx.go", start: 0, text: "line1\nline2\n", sim: 0.2},
		{path: "ctx.go", start: 12, text: "line3\nline4\n", sim: 0.9},
		{path: "ctx.go", start: 24, text: "line5\nline6\n", sim: 0.2},
	})

	resp, err := s.Retrieve(context.Background(), Request{Query: "line", K: 3, MinSimilarity: 0.5, ContextWindow: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "ctx.go:3-4", r.Source)
	assert.Equal(t, 3, r.Metadata.StartLine)
	assert.Equal(t, 4, r.Metadata.EndLine)
	assert.Equal(t, "line1\nline2\nline3\nline4\nline5\nline6\n", r.Context)
	assert.Equal(t, "line3\nline4\n", r.Content)

	noCtx, err := s.Retrieve(context.Background(), Request{Query: "line", K: 3, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, noCtx.Results, 1)
	assert.Empty(t, noCtx.Results[0].Context)
}

func TestRetrieve_ResultCache(t *testing.T) {
	s, emb, store := newTestSearcher(t, []seed{
		{path: "a.go", text: "func a() {}", sim: 0.9},
		{path: "b.go", text: "func b() {}", sim: 0.7},
	})
	cache := NewResultCache(16, time.Minute)
	ctx := context.Background()
	req := Request{Query: "func", K: 2, UseHybrid: true, Cache: cache}

	first, err := s.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, emb.callCount())

	second, err := s.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, emb.callCount(), "cache hit skips the provider")
	assert.Equal(t, first.Results, second.Results)

	// Mutating a returned response never leaks into the cache
	second.Results[0].RelevanceFactors[0] = "mutated"
	third, err := s.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", third.Results[0].RelevanceFactors[0])

	// Different parameters miss
	req.K = 1
	_, err = s.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.callCount())

	// A rebuild changes UpdatedAt and invalidates the entry
	manifest, err := store.LoadManifest(ctx)
	require.NoError(t, err)
	manifest.UpdatedAt = manifest.UpdatedAt.Add(time.Second)
	require.NoError(t, store.SaveManifest(ctx, manifest))

	fresh, err := s.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.False(t, fresh.CacheHit)
	assert.Equal(t, 3, emb.callCount())
}

func TestRetrieve_DefaultsK(t *testing.T) {
	seeds := make([]seed, 0, 12)
	for i := 0; i < 12; i++ {
		seeds = append(seeds, seed{path: "f" + string(rune('a'+i)) + ".go", text: "body", sim: 0.9 - float64(i)*0.01})
	}
	s, _, _ := newTestSearcher(t, seeds)

	resp, err := s.Retrieve(context.Background(), Request{Query: "body"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultK)
}
