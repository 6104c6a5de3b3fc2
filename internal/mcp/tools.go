package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/dshills/devctx/internal/engine"
	"github.com/dshills/devctx/internal/searcher"
	"github.com/dshills/devctx/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeEmbedderMismatch   = -32005 // Index was built with another embedder
	ErrorCodeCorruptIndex       = -32006 // Index is unreadable; a full rebuild repairs it
	ErrorCodeProvider           = -32007 // Embedding provider call failed
)

// maxReportedErrors bounds the per-file errors echoed in index results
const maxReportedErrors = 5

// handleIndexWorkspace handles the index_workspace tool invocation
func (s *Server) handleIndexWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := workspaceArgs(request)
	if err != nil {
		return nil, err
	}

	full := getBoolDefault(args, "full", false)
	req := engine.IndexRequest{
		BasePath:     path,
		Include:      append(getStringSlice(args, "include"), s.cfg.Index.Include...),
		Exclude:      append(getStringSlice(args, "exclude"), s.cfg.Index.Exclude...),
		ChunkSize:    s.cfg.Index.ChunkSize,
		ChunkOverlap: s.cfg.Index.ChunkOverlap,
		Incremental:  !full,
		Docs:         s.cfg.Docs(),
		Workers:      s.cfg.Index.Workers,
		BatchSize:    s.cfg.Index.BatchSize,
		MaxFileBytes: s.cfg.Index.MaxFileBytes,
		Embedder:     s.embedder,
	}

	stats, err := s.engine.EnsureIndex(ctx, req)
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":         true,
		"full_rebuild":    stats.FullRebuild,
		"cancelled":       stats.Cancelled,
		"files_scanned":   stats.FilesScanned,
		"files_indexed":   stats.FilesIndexed,
		"files_unchanged": stats.FilesUnchanged,
		"files_deleted":   stats.FilesDeleted,
		"files_skipped":   stats.FilesSkipped,
		"files_failed":    stats.FilesFailed,
		"chunks_embedded": stats.ChunksEmbedded,
		"chunks_reused":   stats.ChunksReused,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRetrieveContext handles the retrieve_context tool invocation
func (s *Server) handleRetrieveContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := workspaceArgs(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	r := s.cfg.Retrieval
	k := getIntDefault(args, "k", r.K)
	if k < 1 || k > searcher.MaxK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between 1 and %d", searcher.MaxK), map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	minSimilarity := getFloatDefault(args, "min_similarity", r.MinSimilarity)
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_similarity must be between 0 and 1", map[string]interface{}{
			"param": "min_similarity",
			"value": minSimilarity,
		})
	}

	contextWindow := getIntDefault(args, "context_window", r.ContextWindow)
	if contextWindow < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "context_window must not be negative", map[string]interface{}{
			"param": "context_window",
			"value": contextWindow,
		})
	}

	resp, err := s.engine.RetrieveEnhanced(ctx, path, engine.EnhancedRequest{
		Query:             query,
		ChangedFiles:      getStringSlice(args, "files"),
		K:                 k,
		Embedder:          s.embedder,
		UseHybrid:         getBoolDefault(args, "use_hybrid", r.UseHybrid),
		UseQueryExpansion: getBoolDefault(args, "use_query_expansion", r.UseQueryExpansion),
		UseReranking:      getBoolDefault(args, "use_reranking", r.UseReranking),
		MinSimilarity:     minSimilarity,
		ContextWindow:     contextWindow,
	})
	if err != nil {
		return nil, toMCPError("retrieval failed", err)
	}

	response := map[string]interface{}{
		"query":              query,
		"results":            resp.Results,
		"total_found":        resp.TotalFound,
		"average_score":      resp.AverageScore,
		"quality_metrics":    resp.QualityMetrics,
		"retrieval_strategy": resp.RetrievalStrategy,
		"estimated_tokens":   resp.EstimatedTokens,
		"duration_ms":        resp.Duration.Milliseconds(),
	}
	if resp.ExpandedQuery != "" {
		response["expanded_query"] = resp.ExpandedQuery
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, path, err := workspaceArgs(request)
	if err != nil {
		return nil, err
	}

	indexed, err := s.engine.HasIndex(path)
	if err != nil {
		return nil, toMCPError("failed to get index status", err)
	}
	if !indexed {
		response := map[string]interface{}{
			"indexed": false,
			"path":    path,
			"message": "Workspace not indexed. Use the index_workspace tool to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	stats, err := s.engine.Stats(ctx, path)
	if err != nil {
		return nil, toMCPError("failed to get index status", err)
	}

	health, err := s.engine.Health(ctx, path)
	if err != nil {
		return nil, toMCPError("failed to get index status", err)
	}

	response := map[string]interface{}{
		"indexed": true,
		"path":    path,
		"health": map[string]interface{}{
			"database_accessible": health.Health.DatabaseAccessible,
			"vectors_available":   health.Health.VectorsAvailable,
			"fts_indexes_built":   health.Health.FTSIndexesBuilt,
			"vectors_consistent":  health.Health.VectorsConsistent,
		},
		"statistics": map[string]interface{}{
			"doc_count":     stats.DocCount,
			"chunk_count":   stats.ChunkCount,
			"embedder_id":   stats.EmbedderID,
			"chunk_size":    stats.ChunkSize,
			"chunk_overlap": stats.ChunkOverlap,
			"updated_at":    stats.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"index_size_mb": fmt.Sprintf("%.2f", float64(stats.IndexSizeBytes)/(1<<20)),
			"build_mode":    stats.BuildMode,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// workspaceArgs extracts the arguments map and the validated path parameter
func workspaceArgs(request mcp.CallToolRequest) (map[string]interface{}, string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return args, path, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError maps engine errors onto MCP error codes
func toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrConfiguration), errors.Is(err, searcher.ErrEmptyQuery):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrEmbedderMismatch):
		code = ErrorCodeEmbedderMismatch
	case errors.Is(err, types.ErrCorruptIndex):
		code = ErrorCodeCorruptIndex
	case errors.Is(err, types.ErrProvider):
		code = ErrorCodeProvider
	}

	if code == ErrorCodeInternalError {
		log.Error().Err(err).Msg(message)
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is accessible
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	// Check if path exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	// Check if it's a directory
	if !info.IsDir() {
		return ErrNotDirectory
	}

	// Check if directory is readable
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, skipping non-string items
func getStringSlice(args map[string]interface{}, key string) []string {
	var out []string
	switch val := args[key].(type) {
	case []string:
		out = append(out, val...)
	case []interface{}:
		for _, item := range val {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
	}
	return out
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
