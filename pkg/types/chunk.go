package types

import (
	"crypto/sha256"
	"errors"
	"time"
)

// DocumentKind classifies a source file for chunking and ranking
type DocumentKind string

const (
	KindCode          DocumentKind = "code"
	KindDocumentation DocumentKind = "documentation"
)

// ChunkRecord is one indexed span of a source file
type ChunkRecord struct {
	// Identification
	ID         string // Stable, derived from SourceFile + OffsetStart
	SourceFile string // Workspace-relative, slash separated

	// Location (byte offsets into the file at index time)
	OffsetStart int
	OffsetEnd   int

	// Content
	Text        string
	ContentHash [32]byte // SHA-256 of Text, not of the whole file

	// Metadata
	DocumentKind DocumentKind
	Language     string
	CreatedAt    time.Time
}

// ComputeContentHash sets ContentHash from Text
func (c *ChunkRecord) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}

// Len returns the span length in bytes
func (c *ChunkRecord) Len() int {
	return c.OffsetEnd - c.OffsetStart
}

// Validate checks the structural invariants of a chunk record
func (c *ChunkRecord) Validate() error {
	if c.ID == "" {
		return ErrInvalidChunkID
	}
	if c.SourceFile == "" {
		return ErrMissingSourceFile
	}
	if c.OffsetStart < 0 || c.OffsetEnd < c.OffsetStart {
		return ErrInvalidOffsets
	}
	if c.Len() != len(c.Text) {
		return errors.New("text length does not match offsets")
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	switch c.DocumentKind {
	case KindCode, KindDocumentation:
		return nil
	default:
		return errors.New("invalid document kind")
	}
}
