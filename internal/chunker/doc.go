// Package chunker splits source and documentation files into overlapping,
// offset-addressed chunks for embedding and search.
//
// # Basic Usage
//
//	c := chunker.New(nil, chunker.Params{
//	    ChunkSize:       1500,
//	    ChunkOverlap:    200,
//	    DocChunkSize:    2000,
//	    DocChunkOverlap: 0,
//	})
//	records := c.ChunkFile("docs/guide.md", content, time.Now())
//
// # Strategies
//
// The Registry maps a file to a language tag and a Profile. The profile's
// Strategy is one of:
//   - StrategyGeneric: windows of at most ChunkSize bytes. The window end
//     snaps back to the last newline (else the last space or tab) in the
//     second half of the window. Consecutive windows share ChunkOverlap bytes.
//   - StrategySemanticMarkdown: top-level markdown blocks are packed into
//     chunks of at most DocChunkSize bytes. A heading always starts a new
//     chunk. A single block larger than the limit is split with the
//     generic window.
//
// Offsets are bytes. A window never ends inside a UTF-8 sequence.
//
// # Identity
//
// ChunkID hashes the source path and start offset, so an edit that does not
// move a chunk's start keeps its id. ComputeChunkHash hashes the text and is
// what the indexer uses to reuse vectors.
package chunker
