package indexer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dshills/devctx/internal/chunker"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/storage"
	"github.com/dshills/devctx/pkg/types"
)

// binarySniffLen is how much of a file is checked for NUL bytes
const binarySniffLen = 8 << 10

type fileStatus int

const (
	statusPending   fileStatus = iota // not reached before cancellation
	statusUnchanged                   // fingerprint matches the stored rollup
	statusIndexed                     // chunked and embedded, staged for commit
	statusSkipped                     // binary or oversized
	statusFailed                      // read or embedding failure, retried next build
)

// fileResult is the staged outcome for one file
type fileResult struct {
	path     string
	status   fileStatus
	file     *storage.File
	records  []*types.ChunkRecord
	vectors  map[string][]float32 // chunk id -> vector
	embedded int
	reused   int
	err      error
}

// fingerprint is the whole-file identity used for change detection
type fingerprint struct {
	hash    [32]byte
	modTime time.Time
	size    int64
}

// processFile decides whether rel changed and, if so, chunks and embeds it
func (idx *Indexer) processFile(ctx context.Context, basePath, rel string, cfg *BuildConfig, state *corpusState,
	chk *chunker.Chunker, emb embedder.Embedder, createdAt time.Time) *fileResult {

	result := &fileResult{path: rel}
	fail := func(err error) *fileResult {
		if ctx.Err() != nil {
			result.status = statusPending
			return result
		}
		result.status = statusFailed
		result.err = err
		log.Warn().Err(err).Str("path", rel).Msg("failed to index file")
		return result
	}

	absPath := filepath.Join(basePath, filepath.FromSlash(rel))
	info, err := os.Stat(absPath)
	if err != nil {
		return fail(err)
	}
	if info.Size() > cfg.MaxFileBytes {
		log.Debug().Str("path", rel).Int64("size", info.Size()).Msg("skipping oversized file")
		result.status = statusSkipped
		return result
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fail(err)
	}
	if isBinary(content) {
		log.Debug().Str("path", rel).Msg("skipping binary file")
		result.status = statusSkipped
		return result
	}

	fp := fingerprint{hash: sha256.Sum256(content), modTime: info.ModTime(), size: int64(len(content))}
	if prev, ok := state.files[rel]; ok && !state.full && prev.ContentHash == fp.hash {
		result.status = statusUnchanged
		return result
	}

	language, profile := chk.Registry().Detect(rel)
	records := chk.ChunkFile(rel, string(content), createdAt)

	vectors, embedded, reused, err := embedRecords(ctx, records, state.reuse, cfg.BatchSize, emb)
	if err != nil {
		return fail(err)
	}

	result.status = statusIndexed
	result.records = records
	result.vectors = vectors
	result.embedded = embedded
	result.reused = reused
	result.file = &storage.File{
		Path:         rel,
		ContentHash:  fp.hash,
		ModTime:      fp.modTime,
		Size:         fp.size,
		DocumentKind: profile.Kind,
		Language:     language,
		ChunkCount:   len(records),
		IndexedAt:    createdAt,
	}
	return result
}

// embedRecords returns one vector per record. Vectors already known for a
// content hash are reused; the remaining distinct texts are embedded in
// batches.
func embedRecords(ctx context.Context, records []*types.ChunkRecord, reuse map[[32]byte][]float32,
	batchSize int, emb embedder.Embedder) (map[string][]float32, int, int, error) {

	vectors := make(map[string][]float32, len(records))
	byHash := make(map[[32]byte][]float32)
	var pending []*types.ChunkRecord
	queued := make(map[[32]byte]bool)
	reused := 0

	for _, rec := range records {
		if vec, ok := reuse[rec.ContentHash]; ok {
			vectors[rec.ID] = vec
			reused++
			continue
		}
		if !queued[rec.ContentHash] {
			queued[rec.ContentHash] = true
			pending = append(pending, rec)
		}
	}

	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}
		end := min(start+batchSize, len(pending))
		texts := make([]string, 0, end-start)
		for _, rec := range pending[start:end] {
			texts = append(texts, rec.Text)
		}

		resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return nil, 0, 0, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, 0, 0, fmt.Errorf("%w: got %d embeddings for %d texts", types.ErrProvider, len(resp.Embeddings), len(texts))
		}
		for i, e := range resp.Embeddings {
			if len(e.Vector) != emb.Dimension() {
				return nil, 0, 0, fmt.Errorf("%w: embedding has dimension %d, expected %d",
					types.ErrEmbedderMismatch, len(e.Vector), emb.Dimension())
			}
			byHash[pending[start+i].ContentHash] = e.Vector
		}
	}

	embedded := 0
	for _, rec := range records {
		if _, ok := vectors[rec.ID]; ok {
			continue
		}
		vectors[rec.ID] = byHash[rec.ContentHash]
		embedded++
	}
	return vectors, embedded, reused, nil
}

// isBinary reports a NUL byte near the start of content
func isBinary(content []byte) bool {
	n := min(len(content), binarySniffLen)
	return bytes.IndexByte(content[:n], 0) >= 0
}
