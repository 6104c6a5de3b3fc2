// Package types provides shared type definitions for devctx.
//
// The types here are the engine's data model: chunk records and the corpus
// manifest persisted by the storage layer, and the retrieval results and
// quality metrics handed back to callers.
//
// # Core Types
//
// ChunkRecord is one offset-addressed span of a source file:
//
//	rec := &types.ChunkRecord{
//	    ID:           chunker.ChunkID("internal/auth/login.go", 0),
//	    SourceFile:   "internal/auth/login.go",
//	    OffsetStart:  0,
//	    OffsetEnd:    len(text),
//	    Text:         text,
//	    DocumentKind: types.KindCode,
//	}
//	rec.ComputeContentHash()
//
// CorpusManifest records what a corpus was built with. Two manifests with a
// different EmbedderID or chunk parameters are not comparable and force a
// full rebuild.
//
// # Errors
//
// The error taxonomy is exposed as sentinels:
//
//	if errors.Is(err, types.ErrEmbedderMismatch) {
//	    // rebuild with --full
//	}
//
// An empty corpus is not an error; retrieval returns an empty result set.
package types
