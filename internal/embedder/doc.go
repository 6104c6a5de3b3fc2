// Package embedder turns chunk text into vectors.
//
// Four providers implement Embedder: OpenAI and Jina (both through the
// OpenAI-compatible embeddings API), Gemini, and a local feature-hashing
// provider that needs no network. Remote providers share an LRU cache keyed by
// model and content hash, and retry transient failures with exponential
// backoff.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunkA.Text, chunkB.Text},
//	})
//
// # Provider Selection
//
// With Config.Provider empty the factory consults the environment:
//
//  1. DEVCTX_EMBEDDING_PROVIDER names the provider directly
//  2. Else JINA_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY selects a remote provider
//  3. Else the local provider is used and a warning is logged
//
// # Vector Spaces
//
// ID returns provider:model:dimension. An index records the id it was built
// with, and queries against an index built by a different embedder fail with
// types.ErrEmbedderMismatch instead of comparing unrelated vectors.
package embedder
