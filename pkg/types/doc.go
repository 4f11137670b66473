// Package types provides shared type definitions for fleetctx.
//
// The retrieval engine, the documentation searcher and the MCP adapter all exchange
// results through a single shape:
//
//	result := types.SearchResult{
//	    Server:  "core",
//	    Path:    "/etc/nginx/nginx.conf",
//	    Content: content,
//	    Score:   1.0,
//	    Source:  types.SourceFilesystem,
//	}
//
// # Sources
//
// Source is a closed set: filesystem, cache, vector and documentation. Use Valid to
// reject anything else.
//
// # Scores
//
// Score is higher-is-better for every source. Vector hits convert their raw squared L2
// distance with 1/(1+d) and keep the raw value in Distance, so callers that need the
// index's native ordering can still get it.
package types
