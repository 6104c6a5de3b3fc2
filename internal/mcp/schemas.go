package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/devctx/internal/searcher"
)

// indexWorkspaceTool returns the tool definition for index_workspace
func indexWorkspaceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_workspace",
		Description: "Index the documents of a workspace so they can be retrieved as context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
				"full": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, discard the existing index and rebuild every file",
					"default":     false,
				},
				"include": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns to index (default: every file)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"exclude": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns to skip, in addition to the configured excludes",
					"items":       map[string]interface{}{"type": "string"},
				},
			},
			Required: []string{"path"},
		},
	}
}

// retrieveContextTool returns the tool definition for retrieve_context
func retrieveContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_context",
		Description: "Retrieve the chunks of an indexed workspace most relevant to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the indexed workspace",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or identifiers)",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     searcher.DefaultK,
					"minimum":     1,
					"maximum":     searcher.MaxK,
				},
				"files": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these files (workspace-relative or absolute)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Minimum vector similarity of returned chunks (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"use_hybrid": map[string]interface{}{
					"type":        "boolean",
					"description": "Blend keyword, path and identifier signals into the score",
				},
				"use_query_expansion": map[string]interface{}{
					"type":        "boolean",
					"description": "Enrich the query with related terms and file hints",
				},
				"use_reranking": map[string]interface{}{
					"type":        "boolean",
					"description": "Limit chunks per file and skip overlapping neighbours",
				},
				"context_window": map[string]interface{}{
					"type":        "integer",
					"description": "Neighbouring chunks to attach on each side of a result",
					"minimum":     0,
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report whether a workspace is indexed and the statistics of its corpus",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace",
				},
			},
			Required: []string{"path"},
		},
	}
}
