package types

import "time"

// CorpusManifest is the corpus-level record of one indexed workspace
type CorpusManifest struct {
	DocCount   int
	ChunkCount int

	// EmbedderID identifies provider, model and dimension. Changing it
	// invalidates every stored vector.
	EmbedderID string
	Dimension  int

	// Chunking parameters the corpus was built with
	ChunkSize       int
	ChunkOverlap    int
	DocChunkSize    int
	DocChunkOverlap int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SameChunking reports whether two manifests were built with identical chunk parameters
func (m *CorpusManifest) SameChunking(other *CorpusManifest) bool {
	if m == nil || other == nil {
		return false
	}
	return m.ChunkSize == other.ChunkSize &&
		m.ChunkOverlap == other.ChunkOverlap &&
		m.DocChunkSize == other.DocChunkSize &&
		m.DocChunkOverlap == other.DocChunkOverlap
}

// CorpusStats is the reporting view of a manifest
type CorpusStats struct {
	DocCount       int       `json:"docCount"`
	ChunkCount     int       `json:"chunkCount"`
	EmbedderID     string    `json:"embedderId"`
	ChunkSize      int       `json:"chunkSize"`
	ChunkOverlap   int       `json:"chunkOverlap"`
	UpdatedAt      time.Time `json:"updatedAt"`
	IndexSizeBytes int64     `json:"indexSizeBytes"`
	BuildMode      string    `json:"buildMode"`
}

// Stats projects the manifest onto CorpusStats
func (m *CorpusManifest) Stats() *CorpusStats {
	return &CorpusStats{
		DocCount:     m.DocCount,
		ChunkCount:   m.ChunkCount,
		EmbedderID:   m.EmbedderID,
		ChunkSize:    m.ChunkSize,
		ChunkOverlap: m.ChunkOverlap,
		UpdatedAt:    m.UpdatedAt,
	}
}
