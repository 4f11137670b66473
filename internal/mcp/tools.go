package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/fleetctx/internal/embedder"
	"github.com/dshills/fleetctx/internal/indexer"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeWarmupInProgress = -32002 // Another warmup is already running
	ErrorCodeNotReady         = -32003 // Engine not initialized or shutting down
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeUnknownPathAlias = -32005 // Alias not configured for the server
)

// maxContentBytes bounds the file content returned per search result
const maxContentBytes = 4000

// handleSearchFiles handles the search_files tool invocation
func (s *Server) handleSearchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	results, err := s.engine.SearchFilesFiltered(ctx, query, getStringSlice(args, "categories"))
	if err != nil {
		return nil, s.engineError("search failed", err)
	}

	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	items := make([]map[string]interface{}, 0, len(results))
	for i, r := range results {
		item := map[string]interface{}{
			"rank":    i + 1,
			"server":  r.Server,
			"path":    r.Path,
			"source":  string(r.Source),
			"score":   r.Score,
			"content": embedder.Truncate(r.Content, maxContentBytes),
		}
		if r.Source == types.SourceVector {
			item["distance"] = r.Distance
		}
		items = append(items, item)
	}

	response := map[string]interface{}{
		"query":         query,
		"total_results": total,
		"results":       items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReadFile handles the read_file tool invocation
func (s *Server) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	server, err := requireString(args, "server")
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	result, found, err := s.engine.ReadRequest(ctx, server+":"+path)
	if err != nil {
		return nil, s.engineError("read failed", err)
	}
	if !found {
		response := map[string]interface{}{
			"found":   false,
			"server":  server,
			"path":    path,
			"message": "File not found, excluded, empty, or the server is not connected.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	response := map[string]interface{}{
		"found":   true,
		"server":  result.Server,
		"path":    result.Path,
		"source":  string(result.Source),
		"content": result.Content,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocumentation handles the search_documentation tool invocation
func (s *Server) handleSearchDocumentation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	queries := getStringSlice(args, "queries")
	if len(queries) == 0 {
		return nil, newMCPError(ErrorCodeEmptyQuery, "queries parameter is required and cannot be empty", map[string]interface{}{
			"param":  "queries",
			"reason": "missing or empty",
		})
	}

	text, err := s.engine.SearchDocumentation(ctx, queries)
	if err != nil {
		return nil, s.engineError("documentation search failed", err)
	}
	if text == "" {
		text = "No documentation matched."
	}
	return mcp.NewToolResultText(text), nil
}

// handleFindFiles handles the find_files tool invocation
func (s *Server) handleFindFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	server, err := requireString(args, "server")
	if err != nil {
		return nil, err
	}
	pattern, err := requireString(args, "pattern")
	if err != nil {
		return nil, err
	}

	paths, err := s.engine.FindFiles(ctx, strings.ToLower(server), pattern)
	if err != nil {
		return nil, s.engineError("find failed", err)
	}
	if paths == nil {
		paths = []string{}
	}

	response := map[string]interface{}{
		"server":  server,
		"pattern": pattern,
		"count":   len(paths),
		"files":   paths,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleServiceLogs handles the service_logs tool invocation
func (s *Server) handleServiceLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	server, err := requireString(args, "server")
	if err != nil {
		return nil, err
	}
	service, err := requireString(args, "service")
	if err != nil {
		return nil, err
	}
	lines := getIntDefault(args, "lines", 50)
	if lines < 1 || lines > 1000 {
		return nil, newMCPError(ErrorCodeInvalidParams, "lines must be between 1 and 1000", map[string]interface{}{
			"param": "lines",
			"value": lines,
		})
	}

	logs, found, err := s.engine.ServiceLogs(ctx, strings.ToLower(server), service, lines)
	if err != nil {
		return nil, s.engineError("log read failed", err)
	}
	if !found {
		return mcp.NewToolResultText(fmt.Sprintf("No logs for %s on %s.", service, server)), nil
	}
	return mcp.NewToolResultText(logs), nil
}

// handleWarmCache handles the warm_cache tool invocation
func (s *Server) handleWarmCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Warm(ctx)
	if err != nil {
		return nil, s.engineError("warmup failed", err)
	}

	response := map[string]interface{}{
		"files_warmed":  stats.FilesWarmed,
		"files_missing": stats.FilesMissing,
		"files_failed":  stats.FilesFailed,
		"duration_ms":   stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		return nil, s.engineError("failed to get status", err)
	}

	response := map[string]interface{}{
		"state": status.State,
		"servers": map[string]interface{}{
			"configured": nonNil(status.Configured),
			"available":  nonNil(status.Available),
		},
		"index": map[string]interface{}{
			"records":   status.IndexRecords,
			"dimension": status.IndexDimension,
			"provider":  status.EmbeddingProvider,
			"model":     status.EmbeddingModel,
			"schema":    status.IndexSchema,
			"size_mb":   status.IndexSizeMB,
		},
		"cache": map[string]interface{}{
			"healthy":      status.CacheHealthy,
			"cached_files": status.CachedFiles,
		},
	}
	if status.CacheError != "" {
		response["cache"].(map[string]interface{})["error"] = status.CacheError
	}
	if status.IndexError != "" {
		response["index"].(map[string]interface{})["error"] = status.IndexError
	}
	if status.DocsRoot != "" {
		response["docs_root"] = status.DocsRoot
	}
	if status.Warming {
		response["warming"] = true
	}
	if w := status.LastWarmup; w != nil {
		response["last_warmup"] = map[string]interface{}{
			"started_at":    w.StartTime.Format("2006-01-02T15:04:05Z07:00"),
			"files_warmed":  w.FilesWarmed,
			"files_missing": w.FilesMissing,
			"files_failed":  w.FilesFailed,
			"duration_ms":   w.Duration.Milliseconds(),
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// engineError maps engine errors onto MCP error codes
func (s *Server) engineError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrNotReady):
		return newMCPError(ErrorCodeNotReady, "engine not ready", data)
	case errors.Is(err, indexer.ErrWarmupInProgress):
		return newMCPError(ErrorCodeWarmupInProgress, "warmup already in progress", data)
	case errors.Is(err, policy.ErrUnknownAlias):
		return newMCPError(ErrorCodeUnknownPathAlias, "unknown path alias", data)
	case errors.Is(err, policy.ErrInvalidRequest):
		return newMCPError(ErrorCodeInvalidParams, "invalid file request", data)
	}
	s.logger.Error(message, "err", err)
	return newMCPError(ErrorCodeInternalError, message, data)
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

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
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

// getStringSlice extracts a string array parameter, skipping blank and non-string items.
// A single string is accepted as a one-element array.
func getStringSlice(args map[string]interface{}, key string) []string {
	var raw []interface{}
	switch v := args[key].(type) {
	case []interface{}:
		raw = v
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	case string:
		raw = []interface{}{v}
	}

	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
