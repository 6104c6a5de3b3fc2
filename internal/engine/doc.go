// Package engine exposes the document indexing and retrieval API.
//
// An Engine keeps one index per workspace under <workspace>/.devctx/index.db.
// EnsureIndex builds or incrementally updates it, Retrieve and
// RetrieveEnhanced query it, and HasIndex and Stats report on it without
// creating anything.
//
//	e := engine.New()
//	emb, _ := embedder.New(ctx, embedder.Config{Provider: "local"})
//
//	if _, err := e.EnsureIndex(ctx, engine.IndexRequest{
//	    BasePath:     ".",
//	    ChunkSize:    1000,
//	    ChunkOverlap: 200,
//	    Incremental:  true,
//	    Embedder:     emb,
//	}); err != nil {
//	    return err
//	}
//
//	texts, err := e.Retrieve(ctx, ".", "authentication setup", nil, 5, emb)
//
// Builds of one workspace are serialized in process by an IndexLock and
// across processes by a lock.Locker, a lock file in the index directory
// unless WithLocker supplies a shared one. Each retrieval opens the
// database on its own connection so it reads a committed snapshot while a
// build is writing.
package engine
