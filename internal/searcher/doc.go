// Package searcher implements hybrid retrieval over an indexed corpus,
// combining vector similarity with lexical and path signals.
//
// # Basic Usage
//
//	s := searcher.New(store, emb)
//
//	resp, err := s.Retrieve(ctx, searcher.Request{
//	    Query:             "authentication setup",
//	    K:                 10,
//	    UseHybrid:         true,
//	    UseQueryExpansion: true,
//	    UseReranking:      true,
//	    MinSimilarity:     0.3,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%.2f %s %v\n", r.Score, r.Source, r.RelevanceFactors)
//	}
//
// # Pipeline
//
// Every retrieval runs against one read snapshot of the store:
//
//  1. Query expansion: keyword-triggered rules append an enrichment phrase
//     and contribute file hints (path substrings).
//  2. Candidates: the nearest max(4k, k+20) chunks by cosine similarity,
//     restricted to FileScope inside the query; the nearest k chunks of
//     hinted files; and FTS5 keyword matches in hybrid mode.
//  3. Threshold: candidates below MinSimilarity are dropped before ranking,
//     so TotalFound reflects only usable matches.
//  4. Lexical boost: keyword overlap, path match, exact identifiers and
//     file hints form a lexical score in [0,1], folded in as
//
//     score = sim + w*lex*(1-sim)
//
//     with w = 0.15 in hybrid mode and 0 otherwise. Vector similarity
//     dominates and score never drops below sim.
//  5. Ranking: by score, then shorter path, then offset, then path, then
//     chunk id. With reranking at most two chunks per file are kept and
//     overlapping neighbours are deferred; deferred chunks only fill slots
//     left empty, with a penalized score.
//
// # Caching
//
// ResultCache is an explicit value passed in the Request. Keys include the
// corpus manifest's UpdatedAt and the embedder id, so entries from before a
// rebuild are never served.
//
// # Errors
//
// An empty or missing corpus returns an empty response. A query embedding
// failure wraps types.ErrProvider; a corpus built with another embedder
// wraps types.ErrEmbedderMismatch. No partial ranking is ever returned.
package searcher
