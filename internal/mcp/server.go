package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/fleetctx/internal/engine"
	"github.com/dshills/fleetctx/internal/indexer"
	"github.com/dshills/fleetctx/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "fleetctx"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Retriever is the engine surface the tools call. *engine.Engine implements it.
type Retriever interface {
	SearchFilesFiltered(ctx context.Context, query string, categories []string) ([]types.SearchResult, error)
	ReadRequest(ctx context.Context, request string) (types.SearchResult, bool, error)
	SearchDocumentation(ctx context.Context, queries []string) (string, error)
	FindFiles(ctx context.Context, server, pattern string) ([]string, error)
	ServiceLogs(ctx context.Context, server, service string, lines int) (string, bool, error)
	Warm(ctx context.Context) (*indexer.Statistics, error)
	Status(ctx context.Context) (*engine.Status, error)
}

var _ Retriever = (*engine.Engine)(nil)

// Server wraps the MCP server with the retrieval engine
type Server struct {
	mcp    *server.MCPServer
	engine Retriever
	logger *slog.Logger
}

// NewServer creates the MCP server and registers its tools. The engine must already be
// initialized; the server never closes it.
func NewServer(eng Retriever, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		engine: eng,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx ends or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchFilesTool(), s.handleSearchFiles)
	s.mcp.AddTool(readFileTool(), s.handleReadFile)
	s.mcp.AddTool(searchDocumentationTool(), s.handleSearchDocumentation)
	s.mcp.AddTool(findFilesTool(), s.handleFindFiles)
	s.mcp.AddTool(serviceLogsTool(), s.handleServiceLogs)
	s.mcp.AddTool(warmCacheTool(), s.handleWarmCache)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
