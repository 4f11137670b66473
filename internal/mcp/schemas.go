package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchFilesTool returns the tool definition for search_files
func searchFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_files",
		Description: "Search configuration and log files across the fleet. Combines semantic matches from the vector index with live file listings whose path contains the query.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Text to look for in file paths and contents (e.g., 'nginx', 'rpc port')",
				},
				"categories": map[string]interface{}{
					"type":        "array",
					"description": "Only return files in any of these categories",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"env", "json", "yaml", "conf", "ini", "service", "log", "rc"},
					},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// readFileTool returns the tool definition for read_file
func readFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "read_file",
		Description: "Read a file from a server. Served from cache when fresh.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"server": map[string]interface{}{
					"type":        "string",
					"description": "Server name (e.g., core, edge, erp)",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path, or a configured alias such as 'env'",
				},
			},
			Required: []string{"server", "path"},
		},
	}
}

// searchDocumentationTool returns the tool definition for search_documentation
func searchDocumentationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documentation",
		Description: "Search the local documentation tree and return matching paragraphs",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"queries": map[string]interface{}{
					"type":        "array",
					"description": "Terms to look for; the first one found in a file selects its paragraphs",
					"items": map[string]interface{}{
						"type": "string",
					},
					"minItems": 1,
				},
			},
			Required: []string{"queries"},
		},
	}
}

// findFilesTool returns the tool definition for find_files
func findFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_files",
		Description: "List files on a server whose name matches a shell pattern",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"server": map[string]interface{}{
					"type":        "string",
					"description": "Server name",
				},
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "find(1) -name pattern (e.g., '*.conf', '.env')",
				},
			},
			Required: []string{"server", "pattern"},
		},
	}
}

// serviceLogsTool returns the tool definition for service_logs
func serviceLogsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "service_logs",
		Description: "Show the latest journal lines of a systemd service",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"server": map[string]interface{}{
					"type":        "string",
					"description": "Server name",
				},
				"service": map[string]interface{}{
					"type":        "string",
					"description": "systemd unit name (e.g., otnode)",
				},
				"lines": map[string]interface{}{
					"type":        "integer",
					"description": "Number of lines (1-1000)",
					"default":     50,
					"minimum":     1,
					"maximum":     1000,
				},
			},
			Required: []string{"server", "service"},
		},
	}
}

// warmCacheTool returns the tool definition for warm_cache
func warmCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "warm_cache",
		Description: "Re-read every important file on all servers, refreshing the cache and the vector index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report server connectivity, cache health and vector index statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
