package types

// Relevance factor labels attached to retrieval results
const (
	FactorVectorAboveMedian = "vector-similarity:above-median"
	FactorVectorBelowMedian = "vector-similarity:below-median"
	FactorKeywordOverlap    = "keyword-overlap"
	FactorPathMatch         = "path-match"
	FactorExactIdentifier   = "exact-identifier"
	FactorFileHint          = "file-hint"
	FactorKeywordSearch     = "keyword-search"
	FactorNearDuplicate     = "near-duplicate-penalty"
)

// RetrievalResult is a single ranked chunk returned by the retriever
type RetrievalResult struct {
	ChunkID          string         `json:"chunkId"`
	Content          string         `json:"content"`
	Score            float64        `json:"score"` // Normalized 0..1
	Source           string         `json:"source"`
	SourceFile       string         `json:"sourceFile"`
	RelevanceFactors []string       `json:"relevanceFactors"`
	Metadata         ResultMetadata `json:"metadata"`
	Context          string         `json:"context,omitempty"` // Neighbouring chunks when requested
}

// ResultMetadata passes through the chunk record fields callers need
type ResultMetadata struct {
	OffsetStart  int          `json:"offsetStart"`
	OffsetEnd    int          `json:"offsetEnd"`
	StartLine    int          `json:"startLine"`
	EndLine      int          `json:"endLine"`
	DocumentKind DocumentKind `json:"documentKind"`
	Language     string       `json:"language"`
}

// ConfidenceLevel buckets the quality of a result set
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// QualityMetrics summarizes a result set
type QualityMetrics struct {
	AverageScore    float64         `json:"averageScore"`
	DiversityScore  float64         `json:"diversityScore"`
	ConfidenceLevel ConfidenceLevel `json:"confidenceLevel"`
}

// Validate checks if the retrieval result is valid
func (r *RetrievalResult) Validate() error {
	if r.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if r.Score < 0 || r.Score > 1 {
		return ErrInvalidRelevanceScore
	}

	if r.SourceFile == "" {
		return ErrMissingSourceFile
	}

	if r.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
