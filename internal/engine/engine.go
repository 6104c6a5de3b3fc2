// Package engine is the caller-facing API over one or more indexed
// workspaces. It owns the on-disk index layout, the per-workspace build
// guard and the result caches, and delegates to the indexer and searcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dshills/devctx/internal/chunker"
	"github.com/dshills/devctx/internal/discovery"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/indexer"
	"github.com/dshills/devctx/internal/lock"
	"github.com/dshills/devctx/internal/quality"
	"github.com/dshills/devctx/internal/searcher"
	"github.com/dshills/devctx/internal/storage"
	"github.com/dshills/devctx/pkg/types"
)

const (
	// DefaultIndexDir is created under each workspace root
	DefaultIndexDir = ".devctx"
	// IndexFileName is the database inside the index directory
	IndexFileName = "index.db"
)

// IndexRequest describes one build of a workspace
type IndexRequest struct {
	BasePath     string
	Include      []string
	Exclude      []string
	Inspection   []string // Excludes derived from inspecting the project
	ChunkSize    int
	ChunkOverlap int
	Incremental  bool
	Docs         *indexer.DocConfig
	Workers      int
	BatchSize    int
	MaxFileBytes int64
	Embedder     embedder.Embedder
}

// EnhancedRequest is the full retrieval form
type EnhancedRequest struct {
	Query             string
	ChangedFiles      []string // Scope; empty means the whole workspace
	K                 int
	Embedder          embedder.Embedder
	UseHybrid         bool
	UseQueryExpansion bool
	UseReranking      bool
	MinSimilarity     float64
	ContextWindow     int
}

// EnhancedResponse carries results with ranking diagnostics
type EnhancedResponse struct {
	Results           []types.RetrievalResult `json:"results"`
	TotalFound        int                     `json:"totalFound"`
	AverageScore      float64                 `json:"averageScore"`
	QualityMetrics    types.QualityMetrics    `json:"qualityMetrics"`
	RetrievalStrategy string                  `json:"retrievalStrategy"`
	ExpandedQuery     string                  `json:"expandedQuery,omitempty"`
	EstimatedTokens   int                     `json:"estimatedTokens"` // of the returned text, context included
	CacheHit          bool                    `json:"cacheHit"`
	Duration          time.Duration           `json:"duration"`
}

// workspace holds the in-process state of one indexed directory
type workspace struct {
	buildLock *indexer.IndexLock
	cache     *searcher.ResultCache
}

// Engine serves builds and retrievals for any number of workspaces
type Engine struct {
	mu         sync.Mutex
	workspaces map[string]*workspace

	indexDir  string
	locker    lock.Locker // nil uses a FileLock in the index directory
	lockTTL   time.Duration
	expander  *searcher.Expander
	cacheSize int
	cacheTTL  time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithIndexDir sets the index directory name relative to each workspace
func WithIndexDir(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.indexDir = dir
		}
	}
}

// WithLocker replaces the per-workspace lock file with a shared locker
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithExpander sets the query expansion rules
func WithExpander(x *searcher.Expander) Option {
	return func(e *Engine) { e.expander = x }
}

// WithResultCache sizes the per-workspace result caches. A zero size
// disables caching.
func WithResultCache(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheSize = size
		e.cacheTTL = ttl
	}
}

// New creates an Engine
func New(opts ...Option) *Engine {
	e := &Engine{
		workspaces: make(map[string]*workspace),
		indexDir:   DefaultIndexDir,
		lockTTL:    lock.DefaultTTL,
		expander:   searcher.NewExpander(nil),
		cacheSize:  searcher.DefaultCacheSize,
		cacheTTL:   searcher.DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndexPath returns the database path for basePath
func (e *Engine) IndexPath(basePath string) (string, error) {
	root, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	return filepath.Join(root, e.indexDir, IndexFileName), nil
}

// workspace returns the in-process state for an absolute root
func (e *Engine) workspace(root string) *workspace {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, ok := e.workspaces[root]
	if !ok {
		ws = &workspace{buildLock: &indexer.IndexLock{}}
		if e.cacheSize > 0 {
			ws.cache = searcher.NewResultCache(e.cacheSize, e.cacheTTL)
		}
		e.workspaces[root] = ws
	}
	return ws
}

// EnsureIndex builds or updates the corpus of req.BasePath
func (e *Engine) EnsureIndex(ctx context.Context, req IndexRequest) (*indexer.Statistics, error) {
	if req.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrConfiguration)
	}
	root, err := workspaceRoot(req.BasePath)
	if err != nil {
		return nil, err
	}

	cfg := &indexer.BuildConfig{
		Include:      req.Include,
		Exclude:      discovery.MergeExcludes(discovery.DefaultExcludes, req.Exclude, append(req.Inspection, e.indexDir)),
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Incremental:  req.Incremental,
		Docs:         req.Docs,
		Workers:      req.Workers,
		BatchSize:    req.BatchSize,
		MaxFileBytes: req.MaxFileBytes,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(root, e.indexDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	store, err := openStore(filepath.Join(dir, IndexFileName), req.Incremental)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	locker := e.locker
	if locker == nil {
		locker = lock.NewFileLock(dir)
	}

	ws := e.workspace(root)
	idx := indexer.New(store,
		indexer.WithIndexLock(ws.buildLock),
		indexer.WithLocker(locker, e.lockTTL),
	)

	stats, err := idx.Build(ctx, root, cfg, req.Embedder)
	if stats != nil && ws.cache != nil {
		ws.cache.Purge()
	}
	return stats, err
}

// openStore opens the index database. A damaged file is discarded when the
// build is not incremental; an incremental build reports it.
func openStore(path string, incremental bool) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(path)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, types.ErrCorruptIndex) || incremental {
		return nil, err
	}

	log.Warn().Err(err).Str("path", path).Msg("removing unreadable index before full rebuild")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if rmErr := os.Remove(path + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to remove corrupt index: %w", rmErr)
		}
	}
	return storage.NewSQLiteStorage(path)
}

// HasIndex reports whether a manifest exists for basePath. It never
// creates files.
func (e *Engine) HasIndex(basePath string) (bool, error) {
	path, err := e.IndexPath(basePath)
	if err != nil {
		return false, err
	}
	_, err = storage.ProbeManifest(context.Background(), path)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Retrieve is the simple form: hybrid ranking with expansion and reranking,
// returning chunk texts best first
func (e *Engine) Retrieve(ctx context.Context, basePath, query string, fileScope []string, k int,
	emb embedder.Embedder) ([]string, error) {

	resp, err := e.RetrieveEnhanced(ctx, basePath, EnhancedRequest{
		Query:             query,
		ChangedFiles:      fileScope,
		K:                 k,
		Embedder:          emb,
		UseHybrid:         true,
		UseQueryExpansion: true,
		UseReranking:      true,
	})
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		texts[i] = r.Content
	}
	return texts, nil
}

// RetrieveEnhanced runs a retrieval and scores the result set
func (e *Engine) RetrieveEnhanced(ctx context.Context, basePath string, req EnhancedRequest) (*EnhancedResponse, error) {
	if req.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrConfiguration)
	}
	root, err := workspaceRoot(basePath)
	if err != nil {
		return nil, err
	}

	sreq := searcher.Request{
		Query:             req.Query,
		FileScope:         scopePaths(root, req.ChangedFiles),
		K:                 req.K,
		UseHybrid:         req.UseHybrid,
		UseQueryExpansion: req.UseQueryExpansion,
		UseReranking:      req.UseReranking,
		MinSimilarity:     req.MinSimilarity,
		ContextWindow:     req.ContextWindow,
		Cache:             e.workspace(root).cache,
	}
	if sreq.K <= 0 {
		sreq.K = searcher.DefaultK
	}

	path := filepath.Join(root, e.indexDir, IndexFileName)
	if _, err := storage.ProbeManifest(ctx, path); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return buildEnhanced(&searcher.Response{Results: []types.RetrievalResult{}}, sreq.K), nil
		}
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	resp, err := searcher.New(store, req.Embedder, searcher.WithExpander(e.expander)).Retrieve(ctx, sreq)
	if err != nil {
		return nil, err
	}
	return buildEnhanced(resp, min(sreq.K, searcher.MaxK)), nil
}

func buildEnhanced(resp *searcher.Response, k int) *EnhancedResponse {
	metrics := quality.Score(resp.Results, k)
	tokens := 0
	for _, r := range resp.Results {
		text := r.Content
		if r.Context != "" {
			text = r.Context
		}
		tokens += chunker.EstimateTokenCount(text)
	}
	return &EnhancedResponse{
		Results:           resp.Results,
		TotalFound:        resp.TotalFound,
		AverageScore:      metrics.AverageScore,
		QualityMetrics:    metrics,
		RetrievalStrategy: resp.Strategy,
		ExpandedQuery:     resp.ExpandedQuery,
		EstimatedTokens:   tokens,
		CacheHit:          resp.CacheHit,
		Duration:          resp.Duration,
	}
}

// Stats reports the manifest of basePath. A workspace that was never
// indexed reports zero counts.
func (e *Engine) Stats(ctx context.Context, basePath string) (*types.CorpusStats, error) {
	path, err := e.IndexPath(basePath)
	if err != nil {
		return nil, err
	}

	manifest, err := storage.ProbeManifest(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.CorpusStats{BuildMode: storage.BuildMode}, nil
	}
	if err != nil {
		return nil, err
	}

	stats := manifest.Stats()
	stats.BuildMode = storage.BuildMode
	for _, suffix := range []string{"", "-wal"} {
		if info, err := os.Stat(path + suffix); err == nil {
			stats.IndexSizeBytes += info.Size()
		}
	}
	return stats, nil
}

// Health reports store-level counts and consistency checks of an existing
// index. A workspace without an index returns storage.ErrNotFound.
func (e *Engine) Health(ctx context.Context, basePath string) (*storage.Status, error) {
	path, err := e.IndexPath(basePath)
	if err != nil {
		return nil, err
	}
	if _, err := storage.ProbeManifest(ctx, path); err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	return store.GetStatus(ctx)
}

// workspaceRoot resolves basePath to an existing directory
func workspaceRoot(basePath string) (string, error) {
	root, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: workspace %s: %v", types.ErrConfiguration, basePath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: workspace %s is not a directory", types.ErrConfiguration, basePath)
	}
	return root, nil
}

// scopePaths converts caller paths to workspace-relative slash paths
func scopePaths(root string, files []string) []string {
	if len(files) == 0 {
		return nil
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if filepath.IsAbs(f) {
			if rel, err := filepath.Rel(root, f); err == nil {
				f = rel
			}
		}
		out = append(out, filepath.ToSlash(filepath.Clean(f)))
	}
	return out
}
