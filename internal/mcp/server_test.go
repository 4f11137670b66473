package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fleetctx/internal/engine"
	"github.com/dshills/fleetctx/internal/indexer"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/pkg/types"
)

// fakeRetriever records calls and returns canned answers
type fakeRetriever struct {
	results    []types.SearchResult
	categories []string
	file       types.SearchResult
	found      bool
	docs       string
	queries    []string
	paths      []string
	logs       string
	lines      int
	stats      *indexer.Statistics
	status     *engine.Status
	err        error
}

func (f *fakeRetriever) SearchFilesFiltered(ctx context.Context, query string, categories []string) ([]types.SearchResult, error) {
	f.categories = categories
	return f.results, f.err
}

func (f *fakeRetriever) ReadRequest(ctx context.Context, request string) (types.SearchResult, bool, error) {
	if f.err != nil {
		return types.SearchResult{}, false, f.err
	}
	req, err := policy.ParseFileRequest(request)
	if err != nil {
		return types.SearchResult{}, false, err
	}
	f.file.Server = req.Server
	return f.file, f.found, nil
}

func (f *fakeRetriever) SearchDocumentation(ctx context.Context, queries []string) (string, error) {
	f.queries = queries
	return f.docs, f.err
}

func (f *fakeRetriever) FindFiles(ctx context.Context, server, pattern string) ([]string, error) {
	return f.paths, f.err
}

func (f *fakeRetriever) ServiceLogs(ctx context.Context, server, service string, lines int) (string, bool, error) {
	f.lines = lines
	return f.logs, f.logs != "", f.err
}

func (f *fakeRetriever) Warm(ctx context.Context) (*indexer.Statistics, error) {
	return f.stats, f.err
}

func (f *fakeRetriever) Status(ctx context.Context) (*engine.Status, error) {
	return f.status, f.err
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func errorCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	return mcpErr.Code
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(&fakeRetriever{}, nil)
	require.NotNil(t, s.mcp)

	tools := s.mcp.ListTools()
	for _, name := range []string{"search_files", "read_file", "search_documentation", "find_files", "service_logs", "warm_cache", "get_status"} {
		assert.Contains(t, tools, name)
	}
}

func TestHandleSearchFiles(t *testing.T) {
	fake := &fakeRetriever{results: []types.SearchResult{
		{Server: "core", Path: "/etc/nginx/nginx.conf", Content: "events {}", Score: 1.0, Source: types.SourceCache},
		{Server: "core", Path: "/opt/dkg/.env", Content: "PORT=1", Score: 0.4, Source: types.SourceVector, Distance: 1.5},
		{Server: "edge", Path: "/etc/nginx/sites-enabled/app", Content: "server {}", Score: 0.5, Source: types.SourceFilesystem},
	}}
	s := NewServer(fake, nil)

	res, err := s.handleSearchFiles(context.Background(), callRequest(map[string]interface{}{
		"query":      "nginx",
		"categories": []interface{}{"conf", " ", 7},
		"limit":      float64(2),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"conf"}, fake.categories)

	out := decode(t, res)
	assert.Equal(t, float64(3), out["total_results"])
	items := out["results"].([]interface{})
	require.Len(t, items, 2)

	first := items[0].(map[string]interface{})
	assert.Equal(t, "/etc/nginx/nginx.conf", first["path"])
	assert.Equal(t, "cache", first["source"])
	assert.NotContains(t, first, "distance")

	second := items[1].(map[string]interface{})
	assert.Equal(t, "vector", second["source"])
	assert.Equal(t, 1.5, second["distance"])
}

func TestHandleSearchFilesValidation(t *testing.T) {
	s := NewServer(&fakeRetriever{}, nil)
	ctx := context.Background()

	_, err := s.handleSearchFiles(ctx, callRequest(map[string]interface{}{"query": "  "}))
	assert.Equal(t, ErrorCodeEmptyQuery, errorCode(t, err))

	_, err = s.handleSearchFiles(ctx, callRequest(map[string]interface{}{"query": "x", "limit": float64(0)}))
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))

	_, err = s.handleSearchFiles(ctx, mcp.CallToolRequest{})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
}

func TestHandleReadFile(t *testing.T) {
	fake := &fakeRetriever{
		file:  types.SearchResult{Path: "/opt/dkg/.env", Content: "PORT=1", Score: 1, Source: types.SourceFilesystem},
		found: true,
	}
	s := NewServer(fake, nil)
	ctx := context.Background()

	res, err := s.handleReadFile(ctx, callRequest(map[string]interface{}{"server": "core", "path": "env"}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["found"])
	assert.Equal(t, "core", out["server"])
	assert.Equal(t, "/opt/dkg/.env", out["path"])
	assert.Equal(t, "PORT=1", out["content"])

	fake.found = false
	res, err = s.handleReadFile(ctx, callRequest(map[string]interface{}{"server": "core", "path": "/nope"}))
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["found"])

	_, err = s.handleReadFile(ctx, callRequest(map[string]interface{}{"server": "core"}))
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
}

func TestEngineErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: engine is closed", types.ErrNotReady), ErrorCodeNotReady},
		{indexer.ErrWarmupInProgress, ErrorCodeWarmupInProgress},
		{fmt.Errorf("%w: x on core", policy.ErrUnknownAlias), ErrorCodeUnknownPathAlias},
		{fmt.Errorf("%w: bad", policy.ErrInvalidRequest), ErrorCodeInvalidParams},
		{errors.New("boom"), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := NewServer(&fakeRetriever{err: tt.err}, nil)
			_, err := s.handleReadFile(context.Background(), callRequest(map[string]interface{}{"server": "core", "path": "/x"}))
			assert.Equal(t, tt.code, errorCode(t, err))
		})
	}
}

func TestHandleSearchDocumentation(t *testing.T) {
	fake := &fakeRetriever{docs: "From setup.md (matched query: rpc):\nThe RPC port is 8900."}
	s := NewServer(fake, nil)
	ctx := context.Background()

	res, err := s.handleSearchDocumentation(ctx, callRequest(map[string]interface{}{
		"queries": []interface{}{"rpc", "port"},
	}))
	require.NoError(t, err)
	assert.Equal(t, fake.docs, resultText(t, res))
	assert.Equal(t, []string{"rpc", "port"}, fake.queries)

	fake.docs = ""
	res, err = s.handleSearchDocumentation(ctx, callRequest(map[string]interface{}{"queries": "rpc"}))
	require.NoError(t, err)
	assert.Equal(t, "No documentation matched.", resultText(t, res))

	_, err = s.handleSearchDocumentation(ctx, callRequest(map[string]interface{}{"queries": []interface{}{}}))
	assert.Equal(t, ErrorCodeEmptyQuery, errorCode(t, err))
}

func TestHandleFindFiles(t *testing.T) {
	s := NewServer(&fakeRetriever{}, nil)

	res, err := s.handleFindFiles(context.Background(), callRequest(map[string]interface{}{"server": "edge", "pattern": "*.env"}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, float64(0), out["count"])
	assert.Equal(t, []interface{}{}, out["files"])
}

func TestHandleServiceLogs(t *testing.T) {
	fake := &fakeRetriever{logs: "started"}
	s := NewServer(fake, nil)
	ctx := context.Background()

	res, err := s.handleServiceLogs(ctx, callRequest(map[string]interface{}{"server": "core", "service": "otnode"}))
	require.NoError(t, err)
	assert.Equal(t, "started", resultText(t, res))
	assert.Equal(t, 50, fake.lines)

	fake.logs = ""
	res, err = s.handleServiceLogs(ctx, callRequest(map[string]interface{}{"server": "core", "service": "otnode", "lines": float64(10)}))
	require.NoError(t, err)
	assert.Equal(t, "No logs for otnode on core.", resultText(t, res))

	_, err = s.handleServiceLogs(ctx, callRequest(map[string]interface{}{"server": "core", "service": "otnode", "lines": float64(5000)}))
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
}

func TestHandleWarmCache(t *testing.T) {
	fake := &fakeRetriever{stats: &indexer.Statistics{
		FilesWarmed:   4,
		FilesFailed:   7,
		Duration:      1500 * time.Millisecond,
		ErrorMessages: []string{"1", "2", "3", "4", "5", "6", "7"},
	}}
	s := NewServer(fake, nil)

	res, err := s.handleWarmCache(context.Background(), callRequest(nil))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, float64(4), out["files_warmed"])
	assert.Equal(t, float64(1500), out["duration_ms"])
	assert.Len(t, out["errors"], 5)
	assert.Equal(t, float64(7), out["error_count"])
}

func TestHandleGetStatus(t *testing.T) {
	fake := &fakeRetriever{status: &engine.Status{
		State:        "ready",
		Configured:   []string{"core", "edge"},
		Available:    []string{"core"},
		IndexRecords: 12,
		IndexSchema:  "1.1.0",
		CacheError:   "cache unavailable",
		Warming:      true,
	}}
	s := NewServer(fake, nil)

	res, err := s.handleGetStatus(context.Background(), callRequest(nil))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "ready", out["state"])

	servers := out["servers"].(map[string]interface{})
	assert.Equal(t, []interface{}{"core"}, servers["available"])

	cache := out["cache"].(map[string]interface{})
	assert.Equal(t, false, cache["healthy"])
	assert.Equal(t, "cache unavailable", cache["error"])
	assert.NotContains(t, out, "last_warmup")
	assert.Equal(t, true, out["warming"])

	index := out["index"].(map[string]interface{})
	assert.Equal(t, "1.1.0", index["schema"])
	assert.NotContains(t, index, "error")
}
