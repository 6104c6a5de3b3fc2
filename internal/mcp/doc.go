// Package mcp implements the Model Context Protocol (MCP) server for devctx.
//
// The MCP server exposes three tools to AI coding assistants:
//   - index_workspace: build or update the index of a workspace
//   - retrieve_context: retrieve the chunks most relevant to a query
//   - index_status: check whether a workspace is indexed and report its corpus
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started with:
//
//	devctx serve
//
// Logs go to stderr; stdout carries protocol messages only.
//
// # Tool: index_workspace
//
//	Request:
//	{
//	  "name": "index_workspace",
//	  "arguments": {
//	    "path": "/path/to/workspace",
//	    "full": false,
//	    "exclude": ["testdata/**"]
//	  }
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "full_rebuild": false,
//	  "files_indexed": 12,
//	  "files_unchanged": 230,
//	  "chunks_embedded": 41,
//	  "chunks_reused": 3,
//	  "duration_ms": 1840
//	}
//
// Builds are incremental: unchanged files cost no embedding calls. A
// change of embedder or chunk parameters, or "full": true, rebuilds
// everything.
//
// # Tool: retrieve_context
//
//	Request:
//	{
//	  "name": "retrieve_context",
//	  "arguments": {
//	    "path": "/path/to/workspace",
//	    "query": "how are invoices settled",
//	    "k": 5,
//	    "min_similarity": 0.3
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "chunkId": "...",
//	      "content": "func SettleInvoice(id string) error { ... }",
//	      "score": 0.81,
//	      "source": "internal/pay.go:3-9",
//	      "relevanceFactors": ["vector-similarity:above-median", "exact-identifier"]
//	    }
//	  ],
//	  "total_found": 14,
//	  "quality_metrics": {"averageScore": 0.74, "diversityScore": 0.6, "confidenceLevel": "medium"},
//	  "retrieval_strategy": "hybrid+expansion+rerank"
//	}
//
// Toggles not given in the request take their configured values.
//
// # Errors
//
// Failures are returned as *MCPError with a JSON-RPC code. Besides the
// standard invalid-params and internal codes:
//
//	-32002  another build of the workspace is running
//	-32004  empty query
//	-32005  index built with a different embedder; rebuild with "full": true
//	-32006  index unreadable; rebuild with "full": true
//	-32007  embedding provider failed
package mcp
