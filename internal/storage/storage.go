package storage

import (
	"context"
	"time"

	"github.com/dshills/devctx/internal/vectorindex"
	"github.com/dshills/devctx/pkg/types"
)

// Storage defines the interface for persisting and querying an indexed corpus
type Storage interface {
	// Manifest operations
	LoadManifest(ctx context.Context) (*types.CorpusManifest, error)
	SaveManifest(ctx context.Context, manifest *types.CorpusManifest) error

	// File operations
	UpsertFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, path string) (*File, error)
	ListFiles(ctx context.Context) ([]*File, error)
	DeleteFile(ctx context.Context, path string) error

	// Chunk operations
	LoadChunkRecords(ctx context.Context) (map[string]*types.ChunkRecord, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*types.ChunkRecord, error)
	ListChunksByFile(ctx context.Context, path string) ([]*types.ChunkRecord, error)
	UpsertChunks(ctx context.Context, records []*types.ChunkRecord) error
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksForFile(ctx context.Context, path string) error

	// Vector operations
	LoadVectorIndex(ctx context.Context, dimension int) (*vectorindex.Index, error)
	SaveVectorIndex(ctx context.Context, idx *vectorindex.Index) error
	GetVectors(ctx context.Context, ids []string) (map[string][]float32, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error)

	// Corpus operations
	CountCorpus(ctx context.Context) (docs int, chunks int, err error)
	Reset(ctx context.Context) error
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// File is the per-file rollup row used for change detection
type File struct {
	Path         string // Workspace-relative, slash separated
	ContentHash  [32]byte
	ModTime      time.Time
	Size         int64
	DocumentKind types.DocumentKind
	Language     string
	ChunkCount   int
	IndexedAt    time.Time
}

// SearchFilters narrows vector and text search
type SearchFilters struct {
	Files        []string // Restrict to these source files; empty means all
	MinRelevance float64  // Minimum cosine similarity; vector search only
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ChunkID         string
	SimilarityScore float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	ChunkID   string
	BM25Score float64 // Normalized to 0..1, higher is better
}

// Status contains statistics about an index
type Status struct {
	Manifest       *types.CorpusManifest // nil when nothing was built yet
	FilesCount     int
	ChunksCount    int
	VectorsCount   int
	IndexSizeBytes int64
	Health         HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible bool
	VectorsAvailable   bool
	FTSIndexesBuilt    bool
	VectorsConsistent  bool // One vector per chunk
}
