// Package indexer keeps a workspace corpus in sync with the files on disk.
//
// A build resolves the file set, compares each file's sha256 with the rollup
// row stored for it, and re-chunks only files whose content changed. Chunks
// whose text hash is already known under the same embedder reuse their stored
// vector, so an edit at the end of a large file embeds only the chunks it
// touched.
//
// # Basic Usage
//
//	idx := indexer.New(store)
//	stats, err := idx.Build(ctx, "/path/to/workspace", &indexer.BuildConfig{
//	    ChunkSize:    1500,
//	    ChunkOverlap: 150,
//	    Incremental:  true,
//	}, emb)
//
// # Full Rebuilds
//
// Every file is treated as changed when Incremental is false, when no
// manifest exists, when the embedder id differs from the manifest, or when
// chunk parameters changed. A full build also recovers from a corrupt store
// by resetting it; an incremental build reports types.ErrCorruptIndex or
// types.ErrEmbedderMismatch instead.
//
// # Atomicity
//
// Files are processed concurrently (bounded by Workers) and their results are
// buffered. Chunk records, vectors, deletions and the manifest are written in
// a single transaction. A build that changes nothing writes nothing.
//
// A file whose embedding fails is left as it was and retried on the next
// build. Cancelling the context stops work between files; files already
// finished are committed and the context error is returned.
//
// # Concurrency
//
// One build runs per workspace. IndexLock rejects a second build in the same
// process; an optional lock.Locker extends that across processes.
package indexer
