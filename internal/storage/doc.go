// Package storage persists an indexed corpus in SQLite.
//
// One database file holds one workspace's corpus:
//   - manifest: single row with counts, embedder id and chunk parameters
//   - files: per-file rollup (whole-file hash, mtime, size) used to detect changes
//   - chunks: chunk records keyed by their stable id
//   - vectors: one little-endian float32 blob per chunk
//   - chunks_fts: FTS5 index over chunk text, kept in sync by triggers
//
// Deleting a file row cascades to its chunks, their vectors and FTS entries.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(filepath.Join(root, ".devctx", "index.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	manifest, err := store.LoadManifest(ctx)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // empty corpus
//	}
//
// # Transactions
//
// A build writes everything through one transaction so readers see either the
// previous corpus or the new one:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	_ = tx.UpsertFile(ctx, file)
//	_ = tx.UpsertChunks(ctx, records)
//	_ = tx.SaveVectorIndex(ctx, idx)
//	_ = tx.SaveManifest(ctx, manifest)
//
//	return tx.Commit()
//
// Retrieval opens a transaction too and rolls it back when done, which pins a
// WAL snapshot for the duration of one query.
//
// # Errors
//
// Unreadable rows or a damaged file are reported as types.ErrCorruptIndex.
// Stored vectors whose dimension disagrees with the manifest are reported as
// types.ErrEmbedderMismatch.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go) and ranks vectors in Go.
// Building with the sqlite_vec tag switches to github.com/mattn/go-sqlite3 and
// ranks with vec_distance_cosine in SQL.
package storage
