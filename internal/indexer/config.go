package indexer

import (
	"fmt"
	"runtime"

	"github.com/dshills/devctx/internal/chunker"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/pkg/types"
)

// Defaults applied by BuildConfig.withDefaults
const (
	DefaultBatchSize    = embedder.DefaultBatchSize
	DefaultMaxFileBytes = 1 << 20
)

// BuildConfig contains configuration for one build
type BuildConfig struct {
	Include      []string // Empty selects every file
	Exclude      []string // Wins over Include
	ChunkSize    int
	ChunkOverlap int
	Incremental  bool
	Docs         *DocConfig // nil uses the code chunk parameters for documentation

	Workers      int   // Concurrent files (default: runtime.NumCPU())
	BatchSize    int   // Texts per embedding request (default: 50)
	MaxFileBytes int64 // Larger files are skipped (default: 1 MiB)
}

// DocConfig holds the chunk parameters for documentation files
type DocConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// withDefaults returns a copy with zero values filled in
func (c *BuildConfig) withDefaults() BuildConfig {
	out := *c
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.BatchSize > embedder.MaxBatchSize {
		out.BatchSize = embedder.MaxBatchSize
	}
	if out.MaxFileBytes <= 0 {
		out.MaxFileBytes = DefaultMaxFileBytes
	}
	if out.Docs == nil {
		out.Docs = &DocConfig{ChunkSize: out.ChunkSize, ChunkOverlap: out.ChunkOverlap}
	}
	return out
}

// Validate reports invalid chunk parameters and conflicting globs as
// types.ErrConfiguration
func (c *BuildConfig) Validate() error {
	if err := validateChunking("chunk", c.ChunkSize, c.ChunkOverlap); err != nil {
		return err
	}
	if c.Docs != nil {
		if err := validateChunking("doc chunk", c.Docs.ChunkSize, c.Docs.ChunkOverlap); err != nil {
			return err
		}
	}

	excluded := make(map[string]bool, len(c.Exclude))
	for _, p := range c.Exclude {
		excluded[p] = true
	}
	for _, p := range c.Include {
		if excluded[p] {
			return fmt.Errorf("%w: pattern %q is both included and excluded", types.ErrConfiguration, p)
		}
	}
	for _, p := range append(append([]string{}, c.Include...), c.Exclude...) {
		if p == "" {
			return fmt.Errorf("%w: empty glob pattern", types.ErrConfiguration)
		}
	}
	return nil
}

func validateChunking(name string, size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %s size must be positive, got %d", types.ErrConfiguration, name, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: %s overlap must not be negative, got %d", types.ErrConfiguration, name, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: %s overlap %d must be smaller than size %d", types.ErrConfiguration, name, overlap, size)
	}
	return nil
}

func (c *BuildConfig) chunkParams() chunker.Params {
	return chunker.Params{
		ChunkSize:       c.ChunkSize,
		ChunkOverlap:    c.ChunkOverlap,
		DocChunkSize:    c.Docs.ChunkSize,
		DocChunkOverlap: c.Docs.ChunkOverlap,
	}
}

// manifestParams is the manifest this configuration would write, used to
// compare chunking against the stored corpus
func (c *BuildConfig) manifestParams() *types.CorpusManifest {
	return &types.CorpusManifest{
		ChunkSize:       c.ChunkSize,
		ChunkOverlap:    c.ChunkOverlap,
		DocChunkSize:    c.Docs.ChunkSize,
		DocChunkOverlap: c.Docs.ChunkOverlap,
	}
}
