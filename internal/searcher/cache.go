package searcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dshills/devctx/pkg/types"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 10 * time.Minute
)

// ResultCache holds retrieval responses for one corpus. Callers create it
// and pass it with each Request; keys include the manifest's UpdatedAt so
// a rebuild invalidates every entry.
type ResultCache struct {
	lru *expirable.LRU[string, *Response]
}

// NewResultCache creates a cache of at most size entries that expire after ttl
func NewResultCache(size int, ttl time.Duration) *ResultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{lru: expirable.NewLRU[string, *Response](size, nil, ttl)}
}

// Get returns a copy of the cached response for key
func (c *ResultCache) Get(key string) (*Response, bool) {
	resp, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return copyResponse(resp), true
}

// Add stores a copy of resp under key
func (c *ResultCache) Add(key string, resp *Response) {
	c.lru.Add(key, copyResponse(resp))
}

// Len returns the number of live entries
func (c *ResultCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry
func (c *ResultCache) Purge() {
	c.lru.Purge()
}

// cacheKey hashes every request field that affects the ranking together
// with the corpus version and the query embedder
func cacheKey(req Request, manifest *types.CorpusManifest, embedderID string) string {
	scope := append([]string(nil), req.FileScope...)
	sort.Strings(scope)

	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|scope:")
	data.WriteString(strings.Join(scope, ","))
	fmt.Fprintf(&data, "|k:%d|hybrid:%t|expand:%t|rerank:%t|min:%.4f|ctx:%d",
		req.K, req.UseHybrid, req.UseQueryExpansion, req.UseReranking, req.MinSimilarity, req.ContextWindow)
	fmt.Fprintf(&data, "|updated:%d|embedder:%s", manifest.UpdatedAt.UnixNano(), embedderID)

	sum := sha256.Sum256([]byte(data.String()))
	return hex.EncodeToString(sum[:])
}

// copyResponse deep copies a response so cached entries are never shared
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.RetrievalResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		dst.Results[i].RelevanceFactors = append([]string(nil), r.RelevanceFactors...)
	}
	return &dst
}
