package types

import "errors"

// Engine error taxonomy. Callers match with errors.Is; producers wrap with %w.
var (
	// ErrConfiguration reports invalid chunk parameters or conflicting globs
	ErrConfiguration = errors.New("configuration error")
	// ErrCorruptIndex reports unreadable manifest, chunk metadata or vectors
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrEmbedderMismatch reports a provider or dimension change without a rebuild
	ErrEmbedderMismatch = errors.New("embedder mismatch")
	// ErrProvider reports a failed embedding call
	ErrProvider = errors.New("embedding provider error")
	// ErrIndexingInProgress reports a concurrent build on the same workspace
	ErrIndexingInProgress = errors.New("indexing already in progress")
)

// Validation errors
var (
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrMissingSourceFile     = errors.New("source file is required")
	ErrInvalidOffsets        = errors.New("invalid chunk offsets")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrEmptyContent          = errors.New("content cannot be empty")
)
