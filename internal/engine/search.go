package engine

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/fleetctx/internal/docsearch"
	"github.com/dshills/fleetctx/internal/embedder"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/pkg/types"
)

// SearchFiles runs a hybrid search: vector hits first, then live filesystem candidates,
// merged by path and ranked by descending score. A blank query returns nothing.
func (e *Engine) SearchFiles(ctx context.Context, query string) ([]types.SearchResult, error) {
	return e.SearchFilesFiltered(ctx, query, nil)
}

// SearchFilesFiltered is SearchFiles restricted to files in any of the given categories
func (e *Engine) SearchFilesFiltered(ctx context.Context, query string, categories []string) ([]types.SearchResult, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	filter := e.categoryFilter(ctx, categories)

	vector := e.searchVector(ctx, query, filter)
	files, err := e.searchFilesystem(ctx, query, filter)
	if err != nil {
		return nil, err
	}

	return Merge(append(vector, files...)), nil
}

// filter decides whether server:path belongs to the requested categories. nil keeps everything.
type filter func(server, path string) bool

func (e *Engine) categoryFilter(ctx context.Context, categories []string) filter {
	if len(categories) == 0 {
		return nil
	}

	wanted := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		wanted[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	// Members recorded at read time, when the cache can provide them
	members := make(map[string]struct{})
	if e.deps.Cache != nil {
		for c := range wanted {
			list, err := e.deps.Cache.Members(ctx, policy.CategorySetKey(c))
			if err != nil {
				e.logger.Debug("category lookup failed, using path categories", "category", c, "err", err)
				break
			}
			for _, m := range list {
				members[m] = struct{}{}
			}
		}
	}

	return func(server, path string) bool {
		if _, ok := members[policy.MemberKey(server, path)]; ok {
			return true
		}
		for _, c := range e.opts.Policy.Categorize(path) {
			if _, ok := wanted[c]; ok {
				return true
			}
		}
		return false
	}
}

func (e *Engine) searchVector(ctx context.Context, query string, keep filter) []types.SearchResult {
	if e.deps.Index == nil || e.deps.Embedder == nil || e.deps.Index.Len() == 0 {
		return nil
	}

	emb, err := e.deps.Embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		e.logger.Warn("query embedding failed, skipping vector search", "err", err)
		return nil
	}
	hits, err := e.deps.Index.Search(ctx, emb.Vector, e.opts.VectorResults)
	if err != nil {
		e.logger.Warn("vector search failed", "err", err)
		return nil
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		if e.opts.MaxDistance > 0 && h.Distance > e.opts.MaxDistance {
			continue
		}
		if e.opts.Policy.IsExcluded(h.Path) {
			continue
		}
		if keep != nil && !keep(h.Server, h.Path) {
			continue
		}
		results = append(results, types.SearchResult{
			Server:   h.Server,
			Path:     h.Path,
			Content:  h.Content,
			Score:    1 / (1 + h.Distance),
			Source:   types.SourceVector,
			Distance: h.Distance,
		})
	}
	return results
}

// searchFilesystem lists every available server in parallel and keeps per-server results
// in configuration order
func (e *Engine) searchFilesystem(ctx context.Context, query string, keep filter) ([]types.SearchResult, error) {
	if e.deps.Shell == nil {
		return nil, nil
	}
	servers := e.deps.Shell.Servers()
	perServer := make([][]types.SearchResult, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, server := range servers {
		g.Go(func() error {
			results, err := e.searchServer(gctx, server, query, keep)
			if err != nil {
				return err
			}
			perServer[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.SearchResult
	for _, results := range perServer {
		out = append(out, results...)
	}
	return out, nil
}

func (e *Engine) searchServer(ctx context.Context, server, query string, keep filter) ([]types.SearchResult, error) {
	lowerQuery := strings.ToLower(query)

	var candidates []string
	seen := make(map[string]struct{})
	for _, root := range e.opts.Policy.SearchRoots(server) {
		out, err := e.deps.Shell.Exec(ctx, server, e.opts.Policy.ListCommand(root))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("file listing failed", "server", server, "root", root, "err", err)
			continue
		}
		for _, p := range strings.Split(out.Stdout, "\n") {
			p = strings.TrimSpace(p)
			if p == "" || e.opts.Policy.IsExcluded(p) {
				continue
			}
			if !strings.Contains(strings.ToLower(p), lowerQuery) {
				continue
			}
			if keep != nil && !keep(server, p) {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			candidates = append(candidates, p)
		}
	}

	if len(candidates) > e.opts.MaxCandidates {
		e.logger.Debug("truncating candidates", "server", server, "found", len(candidates), "limit", e.opts.MaxCandidates)
		candidates = candidates[:e.opts.MaxCandidates]
	}

	results := make([]types.SearchResult, 0, len(candidates))
	for _, p := range candidates {
		content, source, found, err := e.readFile(ctx, server, p, true)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		score := 0.5
		if strings.Contains(strings.ToLower(content), lowerQuery) {
			score = 1.0
		}
		results = append(results, types.SearchResult{
			Server:  server,
			Path:    p,
			Content: content,
			Score:   score,
			Source:  source,
		})
	}
	return results, nil
}

// Merge deduplicates results by path and orders them by descending score. The highest score
// wins a path; on equal scores the first seen result wins. A kept result takes the position
// of the path's first occurrence, and equal scores keep that order.
func Merge(results []types.SearchResult) []types.SearchResult {
	if len(results) == 0 {
		return nil
	}

	position := make(map[string]int, len(results))
	merged := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		i, ok := position[r.Path]
		if !ok {
			position[r.Path] = len(merged)
			merged = append(merged, r)
			continue
		}
		if r.Score > merged[i].Score {
			merged[i] = r
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// SearchDocumentation searches the local documentation tree and renders the matches
func (e *Engine) SearchDocumentation(ctx context.Context, queries []string) (string, error) {
	if err := e.enter(); err != nil {
		return "", err
	}
	defer e.leave()

	if e.deps.Docs == nil {
		return "", nil
	}
	results, err := e.deps.Docs.Search(ctx, queries)
	if err != nil {
		return "", err
	}
	return docsearch.Format(results), nil
}
