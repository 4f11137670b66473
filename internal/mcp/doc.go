// Package mcp implements the Model Context Protocol (MCP) server for fleetctx.
//
// The server exposes the retrieval engine to AI assistants as tools:
//   - search_files: hybrid vector and filesystem search across the fleet
//   - read_file: read one file, by absolute path or configured alias
//   - search_documentation: paragraph search over the local documentation tree
//   - find_files: list files whose name matches a shell pattern
//   - service_logs: tail a systemd unit's journal
//   - warm_cache: re-read the important files of every server
//   - get_status: connectivity, cache and index statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// It is started by the serve command:
//
//	fleetctx serve
//
// # Tool: search_files
//
//	Request:
//	{
//	  "name": "search_files",
//	  "arguments": {
//	    "query": "nginx",
//	    "categories": ["conf"],
//	    "limit": 10
//	  }
//	}
//
//	Response:
//	{
//	  "query": "nginx",
//	  "total_results": 2,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "server": "core",
//	      "path": "/etc/nginx/sites-enabled/default",
//	      "source": "cache",
//	      "score": 1,
//	      "content": "server { ... }"
//	    }
//	  ]
//	}
//
// Every score is higher-is-better. Vector hits also carry the raw squared L2 "distance".
//
// # Error Handling
//
// Handlers return MCPError values that the framework encodes as JSON-RPC errors:
//   - -32602: Invalid params (missing/invalid arguments, malformed file request)
//   - -32603: Internal error
//   - -32002: Warmup in progress
//   - -32003: Engine not ready
//   - -32004: Empty query
//   - -32005: Unknown path alias
//
// # Logging
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
