package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/devctx/internal/chunker"
	"github.com/dshills/devctx/internal/discovery"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/lock"
	"github.com/dshills/devctx/internal/storage"
	"github.com/dshills/devctx/internal/vectorindex"
	"github.com/dshills/devctx/pkg/types"
)

// LockName is the name of the cross-process build lock
const LockName = "build"

// Indexer coordinates the indexing pipeline: discover -> diff -> chunk -> embed -> commit
type Indexer struct {
	storage    storage.Storage
	registry   *chunker.Registry
	discoverer *discovery.Discoverer
	buildLock  *IndexLock
	locker     lock.Locker
	lockTTL    time.Duration
	now        func() time.Time
}

// Option configures an Indexer
type Option func(*Indexer)

// WithRegistry sets the language registry used to pick chunking strategies
func WithRegistry(r *chunker.Registry) Option {
	return func(idx *Indexer) { idx.registry = r }
}

// WithDiscoverer replaces the file discoverer
func WithDiscoverer(d *discovery.Discoverer) Option {
	return func(idx *Indexer) { idx.discoverer = d }
}

// WithIndexLock shares an in-process lock between indexers of one workspace
func WithIndexLock(l *IndexLock) Option {
	return func(idx *Indexer) { idx.buildLock = l }
}

// WithLocker adds a cross-process lock held for the duration of a build
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(idx *Indexer) {
		idx.locker = l
		idx.lockTTL = ttl
	}
}

// Statistics contains statistics about one build
type Statistics struct {
	FilesScanned   int
	FilesIndexed   int
	FilesUnchanged int
	FilesDeleted   int
	FilesFailed    int
	FilesSkipped   int
	ChunksEmbedded int
	ChunksReused   int
	ChunksDeleted  int
	FullRebuild    bool
	Cancelled      bool
	Duration       time.Duration
	ErrorMessages  []string
}

// New creates a new Indexer writing to store
func New(store storage.Storage, opts ...Option) *Indexer {
	idx := &Indexer{
		storage:    store,
		registry:   chunker.DefaultRegistry(),
		discoverer: discovery.New(),
		buildLock:  &IndexLock{},
		lockTTL:    lock.DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// corpusState is what the store held when the build started
// keepLock extends the cross-process build lock every third of its ttl
// until the returned stop function is called. Cancelling ctx does not stop
// it, since a cancelled build still commits the files it finished.
func (idx *Indexer) keepLock(ctx context.Context) (stop func()) {
	interval := idx.lockTTL / 3
	if interval <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := idx.locker.Extend(hbCtx, LockName, idx.lockTTL); err != nil && hbCtx.Err() == nil {
					log.Error().Err(err).Msg("failed to extend build lock")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

type corpusState struct {
	manifest *types.CorpusManifest
	files    map[string]*storage.File
	chunks   map[string][]*types.ChunkRecord // by source file
	vectors  *vectorindex.Index
	reuse    map[[32]byte][]float32 // content hash -> vector under the current embedder
	full     bool
	reset    bool
}

// Build brings the corpus for basePath up to date with the files on disk.
// Only changed files are chunked and only chunks with unseen content are
// embedded. All writes land in one transaction.
func (idx *Indexer) Build(ctx context.Context, basePath string, cfg *BuildConfig, emb embedder.Embedder) (*Statistics, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: build config is required", types.ErrConfiguration)
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	config := cfg.withDefaults()

	if !idx.buildLock.TryAcquire() {
		return nil, types.ErrIndexingInProgress
	}
	defer idx.buildLock.Release()

	if idx.locker != nil {
		acquired, err := idx.locker.Acquire(ctx, LockName, idx.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire build lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: build lock held by another process", types.ErrIndexingInProgress)
		}
		defer func() {
			if err := idx.locker.Release(context.WithoutCancel(ctx), LockName); err != nil {
				log.Warn().Err(err).Msg("failed to release build lock")
			}
		}()
		stopHeartbeat := idx.keepLock(ctx)
		defer stopHeartbeat()
	}

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	files, err := idx.discoverer.Discover(basePath, config.Include, config.Exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesScanned = len(files)

	embedderID := embedder.ID(emb)
	state, err := idx.loadState(ctx, &config, embedderID, emb.Dimension())
	if err != nil {
		return nil, err
	}
	stats.FullRebuild = state.full

	log.Info().
		Str("path", basePath).
		Int("files", len(files)).
		Bool("full", state.full).
		Str("embedder", embedderID).
		Msg("indexing workspace")

	results := idx.processFiles(ctx, basePath, files, &config, state, emb)

	cancelled := ctx.Err() != nil
	stats.Cancelled = cancelled

	present := make(map[string]bool, len(results))
	var changed []*fileResult
	for _, r := range results {
		switch r.status {
		case statusUnchanged:
			stats.FilesUnchanged++
			present[r.path] = true
		case statusIndexed:
			stats.FilesIndexed++
			stats.ChunksEmbedded += r.embedded
			stats.ChunksReused += r.reused
			present[r.path] = true
			changed = append(changed, r)
		case statusFailed:
			stats.FilesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.path, r.err))
			present[r.path] = true
		case statusSkipped:
			stats.FilesSkipped++
		case statusPending:
			present[r.path] = true
		}
	}

	var removed []string
	if !state.full {
		for path := range state.files {
			if !present[path] {
				removed = append(removed, path)
			}
		}
		sort.Strings(removed)
	}

	if state.manifest != nil && !state.full && len(changed) == 0 && len(removed) == 0 {
		stats.Duration = time.Since(startTime)
		log.Info().Int("unchanged", stats.FilesUnchanged).Msg("index already up to date")
		if cancelled {
			return stats, ctx.Err()
		}
		return stats, nil
	}

	// A cancelled rebuild would replace a complete corpus with a partial one
	if cancelled && state.reset && state.manifest != nil {
		stats.FilesIndexed = 0
		stats.ChunksEmbedded = 0
		stats.ChunksReused = 0
		stats.Duration = time.Since(startTime)
		log.Warn().Int("finished", len(changed)).Msg("full rebuild cancelled, previous index kept")
		return stats, ctx.Err()
	}

	// Completed work is committed even when the build was cancelled
	commitCtx := context.WithoutCancel(ctx)
	if err := idx.commit(commitCtx, &config, state, changed, removed, emb, stats); err != nil {
		return nil, err
	}
	stats.FilesDeleted = len(removed)
	stats.Duration = time.Since(startTime)

	log.Info().
		Int("indexed", stats.FilesIndexed).
		Int("unchanged", stats.FilesUnchanged).
		Int("deleted", stats.FilesDeleted).
		Int("failed", stats.FilesFailed).
		Int("embedded", stats.ChunksEmbedded).
		Int("reused", stats.ChunksReused).
		Dur("duration", stats.Duration).
		Msg("indexing complete")

	if cancelled {
		return stats, ctx.Err()
	}
	return stats, nil
}

// loadState reads the current corpus. Corrupt or mismatched data is an
// error for incremental builds; a full build starts over from an empty store.
func (idx *Indexer) loadState(ctx context.Context, cfg *BuildConfig, embedderID string, dim int) (*corpusState, error) {
	state, err := idx.readState(ctx, cfg, embedderID, dim)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, types.ErrCorruptIndex) && !errors.Is(err, types.ErrEmbedderMismatch) {
		return nil, err
	}
	if cfg.Incremental {
		return nil, err
	}

	log.Warn().Err(err).Msg("discarding unreadable index for full rebuild")
	return &corpusState{
		files:   make(map[string]*storage.File),
		chunks:  make(map[string][]*types.ChunkRecord),
		vectors: vectorindex.New(dim),
		reuse:   make(map[[32]byte][]float32),
		full:    true,
		reset:   true,
	}, nil
}

func (idx *Indexer) readState(ctx context.Context, cfg *BuildConfig, embedderID string, dim int) (*corpusState, error) {
	state := &corpusState{
		files:  make(map[string]*storage.File),
		chunks: make(map[string][]*types.ChunkRecord),
		reuse:  make(map[[32]byte][]float32),
	}

	manifest, err := idx.storage.LoadManifest(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		state.manifest = manifest
	}

	sameEmbedder := state.manifest != nil &&
		state.manifest.EmbedderID == embedderID &&
		state.manifest.Dimension == dim

	state.full = !cfg.Incremental ||
		!sameEmbedder ||
		!state.manifest.SameChunking(cfg.manifestParams())
	state.reset = state.full

	files, err := idx.storage.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		state.files[f.Path] = f
	}

	records, err := idx.storage.LoadChunkRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		state.chunks[rec.SourceFile] = append(state.chunks[rec.SourceFile], rec)
	}
	for path := range state.chunks {
		sortByOffset(state.chunks[path])
	}

	if !sameEmbedder {
		state.vectors = vectorindex.New(dim)
		return state, nil
	}

	stored, err := idx.storage.LoadVectorIndex(ctx, dim)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if vec, ok := stored.Get(rec.ID); ok {
			state.reuse[rec.ContentHash] = vec
		}
	}

	if state.full {
		state.vectors = vectorindex.New(dim)
	} else {
		state.vectors = stored
	}
	return state, nil
}

// processFiles fingerprints, chunks and embeds files concurrently. The
// result slice is in the order of files.
func (idx *Indexer) processFiles(ctx context.Context, basePath string, files []string, cfg *BuildConfig,
	state *corpusState, emb embedder.Embedder) []*fileResult {

	chk := chunker.New(idx.registry, cfg.chunkParams())
	results := make([]*fileResult, len(files))
	createdAt := idx.now()

	var done atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)

	for i, path := range files {
		if ctx.Err() != nil {
			results[i] = &fileResult{path: path, status: statusPending}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = &fileResult{path: path, status: statusPending}
				return nil
			}
			results[i] = idx.processFile(ctx, basePath, path, cfg, state, chk, emb, createdAt)
			if n := done.Add(1); n%100 == 0 {
				log.Debug().Int32("done", n).Int("total", len(files)).Msg("indexing progress")
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// commit applies every staged change in one transaction and rewrites the manifest
func (idx *Indexer) commit(ctx context.Context, cfg *BuildConfig, state *corpusState, changed []*fileResult,
	removed []string, emb embedder.Embedder, stats *Statistics) error {

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if state.reset {
		if err := tx.Reset(ctx); err != nil {
			return err
		}
	}

	vectors := state.vectors
	for _, r := range changed {
		if err := tx.UpsertFile(ctx, r.file); err != nil {
			return err
		}

		var previous []*types.ChunkRecord
		if !state.full {
			previous = state.chunks[r.path]
		}
		keep := make(map[string][32]byte, len(r.records))
		for _, rec := range r.records {
			keep[rec.ID] = rec.ContentHash
		}
		prevHash := make(map[string][32]byte, len(previous))
		var retired []string
		for _, rec := range previous {
			prevHash[rec.ID] = rec.ContentHash
			if h, ok := keep[rec.ID]; !ok || h != rec.ContentHash {
				retired = append(retired, rec.ID)
			}
		}
		if err := tx.DeleteChunks(ctx, retired); err != nil {
			return err
		}
		for _, id := range retired {
			vectors.Delete(id)
		}
		stats.ChunksDeleted += len(retired)

		var upserts []*types.ChunkRecord
		for _, rec := range r.records {
			if h, ok := prevHash[rec.ID]; ok && h == rec.ContentHash {
				if _, has := vectors.Get(rec.ID); has {
					continue
				}
			}
			upserts = append(upserts, rec)
		}
		if err := tx.UpsertChunks(ctx, upserts); err != nil {
			return err
		}
		for _, rec := range upserts {
			vec, ok := r.vectors[rec.ID]
			if !ok {
				return fmt.Errorf("chunk %s of %s has no vector", rec.ID, r.path)
			}
			if err := vectors.Insert(rec.ID, vec); err != nil {
				return fmt.Errorf("%w: %v", types.ErrEmbedderMismatch, err)
			}
		}
	}

	for _, path := range removed {
		for _, rec := range state.chunks[path] {
			vectors.Delete(rec.ID)
		}
		stats.ChunksDeleted += len(state.chunks[path])
		if err := tx.DeleteFile(ctx, path); err != nil {
			return err
		}
	}

	if err := tx.SaveVectorIndex(ctx, vectors); err != nil {
		return err
	}

	docs, chunks, err := tx.CountCorpus(ctx)
	if err != nil {
		return err
	}

	now := idx.now()
	manifest := cfg.manifestParams()
	manifest.DocCount = docs
	manifest.ChunkCount = chunks
	manifest.EmbedderID = embedder.ID(emb)
	manifest.Dimension = emb.Dimension()
	manifest.CreatedAt = now
	manifest.UpdatedAt = now
	if state.manifest != nil && !state.reset {
		manifest.CreatedAt = state.manifest.CreatedAt
	}
	if err := tx.SaveManifest(ctx, manifest); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	vectors.MarkClean()
	return nil
}

func sortByOffset(records []*types.ChunkRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].OffsetStart < records[j].OffsetStart
	})
}
