package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/storage"
	"github.com/dshills/devctx/internal/vectorindex"
	"github.com/dshills/devctx/pkg/types"
)

const (
	DefaultK = 10
	MaxK     = 100

	// Vector candidates fetched per query: max(candidateFactor*k, k+candidateSlack)
	candidateFactor = 4
	candidateSlack  = 20
)

var (
	// ErrEmptyQuery is returned for a blank query
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Request contains parameters for a retrieval
type Request struct {
	Query             string
	FileScope         []string // Workspace-relative paths; empty means unscoped
	K                 int
	UseHybrid         bool
	UseQueryExpansion bool
	UseReranking      bool
	MinSimilarity     float64
	ContextWindow     int          // Neighbouring chunks to attach on each side
	Cache             *ResultCache // Optional
}

// Response contains ranked results and how they were produced
type Response struct {
	Results       []types.RetrievalResult
	TotalFound    int // Candidates that passed the similarity threshold
	Strategy      string
	ExpandedQuery string // Empty when no expansion rule fired
	Duration      time.Duration
	CacheHit      bool
}

// Searcher ranks chunks of one corpus against a query. It never writes to
// the store.
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	expander *Expander
}

// Option configures a Searcher
type Option func(*Searcher)

// WithExpander replaces the default query expander
func WithExpander(e *Expander) Option {
	return func(s *Searcher) {
		if e != nil {
			s.expander = e
		}
	}
}

// New creates a Searcher over store that embeds queries with emb
func New(store storage.Storage, emb embedder.Embedder, opts ...Option) *Searcher {
	s := &Searcher{
		storage:  store,
		embedder: emb,
		expander: NewExpander(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve returns at most K results ordered best first. An empty or
// missing corpus yields an empty response; a failed query embedding fails
// the whole call.
func (s *Searcher) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid retrieval request: %w", err)
	}
	embedderID := embedder.ID(s.embedder)

	// Probe before the provider call so an empty corpus costs nothing
	manifest, err := s.storage.LoadManifest(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return emptyResponse(req, start), nil
	}
	if err != nil {
		return nil, err
	}
	if manifest.ChunkCount == 0 {
		return emptyResponse(req, start), nil
	}
	if err := checkEmbedder(manifest, embedderID, s.embedder.Dimension()); err != nil {
		return nil, err
	}

	if req.Cache != nil {
		if resp, ok := req.Cache.Get(cacheKey(req, manifest, embedderID)); ok {
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	expansion := &Expansion{Query: req.Query}
	if req.UseQueryExpansion {
		expansion = s.expander.Expand(req.Query)
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: expansion.Query})
	if err != nil {
		if errors.Is(err, types.ErrProvider) {
			return nil, fmt.Errorf("query embedding failed: %w", err)
		}
		return nil, fmt.Errorf("%w: query embedding failed: %w", types.ErrProvider, err)
	}

	tx, err := s.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open read snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The snapshot may postdate the probe if a build committed in between
	snapshot, err := tx.LoadManifest(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return emptyResponse(req, start), nil
	}
	if err != nil {
		return nil, err
	}
	if snapshot.ChunkCount == 0 {
		return emptyResponse(req, start), nil
	}
	if err := checkEmbedder(snapshot, embedderID, len(emb.Vector)); err != nil {
		return nil, err
	}

	resp, err := s.rank(ctx, tx, snapshot, req, expansion, emb.Vector)
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Since(start)

	log.Debug().
		Str("strategy", resp.Strategy).
		Int("results", len(resp.Results)).
		Int("total_found", resp.TotalFound).
		Dur("duration", resp.Duration).
		Msg("retrieval complete")

	if req.Cache != nil {
		req.Cache.Add(cacheKey(req, snapshot, embedderID), resp)
	}
	return resp, nil
}

// rank gathers candidates inside the snapshot and orders them
func (s *Searcher) rank(ctx context.Context, tx storage.Tx, manifest *types.CorpusManifest,
	req Request, expansion *Expansion, queryVector []float32) (*Response, error) {

	pool, err := gatherCandidates(ctx, tx, req, expansion, queryVector)
	if err != nil {
		return nil, err
	}

	var scope map[string]bool
	if len(req.FileScope) > 0 {
		scope = make(map[string]bool, len(req.FileScope))
		for _, f := range req.FileScope {
			scope[f] = true
		}
	}

	weight := 0.0
	if req.UseHybrid {
		weight = HybridWeight
	}
	terms := newQueryTerms(req.Query)

	cands := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		if c.rec == nil {
			continue
		}
		if scope != nil && !scope[c.rec.SourceFile] {
			continue
		}
		c.similarity = clamp01(c.similarity)
		if c.similarity < req.MinSimilarity {
			continue
		}
		c.hinted = len(expansion.FileHints) > 0 && matchesHint(c.rec.SourceFile, expansion.FileHints)
		terms.scoreLexical(c)
		c.score = combine(c.similarity, c.lexical, weight)
		cands = append(cands, c)
	}

	sortCandidates(cands)
	median := medianSimilarity(cands)

	var chosen []*candidate
	if req.UseReranking {
		chosen = rerank(cands, req.K, req.MinSimilarity, overlapWindow(manifest))
	} else {
		chosen = cands[:min(req.K, len(cands))]
	}

	results, err := buildResults(ctx, tx, chosen, median, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Results:    results,
		TotalFound: len(cands),
		Strategy:   strategy(req, expansion),
	}
	if expansion.Expanded() {
		resp.ExpandedQuery = expansion.Query
	}
	return resp, nil
}

// gatherCandidates unions vector, file-hint and keyword candidates and
// loads their chunk records
func gatherCandidates(ctx context.Context, tx storage.Tx, req Request, expansion *Expansion,
	queryVector []float32) (map[string]*candidate, error) {

	pool := make(map[string]*candidate)
	get := func(id string) *candidate {
		c, ok := pool[id]
		if !ok {
			c = &candidate{}
			pool[id] = c
		}
		return c
	}

	var scopeFilter *storage.SearchFilters
	if len(req.FileScope) > 0 {
		scopeFilter = &storage.SearchFilters{Files: req.FileScope}
	}
	vectorFilter := &storage.SearchFilters{Files: req.FileScope, MinRelevance: req.MinSimilarity}

	n := max(candidateFactor*req.K, req.K+candidateSlack)
	vectorResults, err := tx.SearchVector(ctx, queryVector, n, vectorFilter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	for _, r := range vectorResults {
		c := get(r.ChunkID)
		c.similarity = r.SimilarityScore
		c.fromVector = true
	}

	if len(expansion.FileHints) > 0 {
		hinted, err := hintedFiles(ctx, tx, expansion.FileHints, req.FileScope)
		if err != nil {
			return nil, err
		}
		if len(hinted) > 0 {
			hintResults, err := tx.SearchVector(ctx, queryVector, req.K, &storage.SearchFilters{Files: hinted, MinRelevance: req.MinSimilarity})
			if err != nil {
				return nil, fmt.Errorf("file hint search failed: %w", err)
			}
			for _, r := range hintResults {
				c := get(r.ChunkID)
				c.similarity = r.SimilarityScore
				c.fromVector = true
			}
		}
	}

	if req.UseHybrid {
		textResults, err := tx.SearchText(ctx, req.Query, n, scopeFilter)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		var missing []string
		for _, r := range textResults {
			c := get(r.ChunkID)
			c.fromKeyword = true
			if !c.fromVector {
				missing = append(missing, r.ChunkID)
			}
		}
		if len(missing) > 0 {
			vectors, err := tx.GetVectors(ctx, missing)
			if err != nil {
				return nil, fmt.Errorf("failed to load keyword candidate vectors: %w", err)
			}
			for _, id := range missing {
				vec, ok := vectors[id]
				if !ok {
					delete(pool, id)
					continue
				}
				if len(vec) != len(queryVector) {
					return nil, fmt.Errorf("%w: stored vector has dimension %d, query has %d",
						types.ErrEmbedderMismatch, len(vec), len(queryVector))
				}
				pool[id].similarity = vectorindex.Cosine(queryVector, vec)
			}
		}
	}

	if len(pool) == 0 {
		return pool, nil
	}
	ids := make([]string, 0, len(pool))
	for id := range pool {
		ids = append(ids, id)
	}
	records, err := tx.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate chunks: %w", err)
	}
	for id, c := range pool {
		c.rec = records[id]
	}
	return pool, nil
}

// hintedFiles lists indexed files whose path matches a hint, restricted to scope
func hintedFiles(ctx context.Context, tx storage.Tx, hints, scope []string) ([]string, error) {
	files, err := tx.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var inScope map[string]bool
	if len(scope) > 0 {
		inScope = make(map[string]bool, len(scope))
		for _, f := range scope {
			inScope[f] = true
		}
	}

	var out []string
	for _, f := range files {
		if inScope != nil && !inScope[f.Path] {
			continue
		}
		if matchesHint(f.Path, hints) {
			out = append(out, f.Path)
		}
	}
	return out, nil
}

// buildResults turns chosen candidates into results with line anchors and
// optional neighbouring context
func buildResults(ctx context.Context, tx storage.Tx, chosen []*candidate, median float64,
	req Request) ([]types.RetrievalResult, error) {

	views := make(map[string]*fileView)
	results := make([]types.RetrievalResult, 0, len(chosen))
	for _, c := range chosen {
		rec := c.rec
		view, ok := views[rec.SourceFile]
		if !ok {
			records, err := tx.ListChunksByFile(ctx, rec.SourceFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load chunks for %s: %w", rec.SourceFile, err)
			}
			view = newFileView(records)
			views[rec.SourceFile] = view
		}

		startLine, endLine := view.lines(rec)
		source := rec.SourceFile
		if startLine > 0 {
			source = fmt.Sprintf("%s:%d-%d", rec.SourceFile, startLine, endLine)
		}

		result := types.RetrievalResult{
			ChunkID:          rec.ID,
			Content:          rec.Text,
			Score:            c.score,
			Source:           source,
			SourceFile:       rec.SourceFile,
			RelevanceFactors: c.factors(median, req.UseHybrid),
			Metadata: types.ResultMetadata{
				OffsetStart:  rec.OffsetStart,
				OffsetEnd:    rec.OffsetEnd,
				StartLine:    startLine,
				EndLine:      endLine,
				DocumentKind: rec.DocumentKind,
				Language:     rec.Language,
			},
		}
		if req.ContextWindow > 0 {
			result.Context = view.neighbourhood(rec, req.ContextWindow)
		}
		results = append(results, result)
	}
	return results, nil
}

// validateRequest applies defaults and rejects unusable requests
func validateRequest(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}

	if req.K <= 0 {
		req.K = DefaultK
	}
	if req.K > MaxK {
		req.K = MaxK
	}

	if req.MinSimilarity < 0 || req.MinSimilarity > 1 {
		return fmt.Errorf("%w: minSimilarity %.2f outside [0,1]", types.ErrConfiguration, req.MinSimilarity)
	}
	if req.ContextWindow < 0 {
		return fmt.Errorf("%w: negative context window", types.ErrConfiguration)
	}
	return nil
}

// checkEmbedder rejects queries embedded differently from the corpus
func checkEmbedder(manifest *types.CorpusManifest, embedderID string, dimension int) error {
	if manifest.EmbedderID != embedderID {
		return fmt.Errorf("%w: corpus built with %s, query embedder is %s",
			types.ErrEmbedderMismatch, manifest.EmbedderID, embedderID)
	}
	if manifest.Dimension != dimension {
		return fmt.Errorf("%w: corpus dimension %d, query dimension %d",
			types.ErrEmbedderMismatch, manifest.Dimension, dimension)
	}
	return nil
}

// overlapWindow returns the near-duplicate window per document kind
func overlapWindow(m *types.CorpusManifest) func(types.DocumentKind) int {
	return func(kind types.DocumentKind) int {
		if kind == types.KindDocumentation {
			return m.DocChunkOverlap
		}
		return m.ChunkOverlap
	}
}

// strategy names the signals used, e.g. "hybrid+expansion+rerank"
func strategy(req Request, expansion *Expansion) string {
	parts := []string{"vector"}
	if req.UseHybrid {
		parts[0] = "hybrid"
	}
	if expansion.Expanded() {
		parts = append(parts, "expansion")
	}
	if req.UseReranking {
		parts = append(parts, "rerank")
	}
	return strings.Join(parts, "+")
}

func emptyResponse(req Request, start time.Time) *Response {
	return &Response{
		Results:  []types.RetrievalResult{},
		Strategy: strategy(req, &Expansion{}),
		Duration: time.Since(start),
	}
}
