package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/fleetctx/internal/embedder"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/internal/vectorindex"
	"github.com/dshills/fleetctx/pkg/types"
)

// ReadFile returns the content of path on server. found is false when the path is excluded,
// the server is not connected, or the file is missing or empty; none of these is an error.
// With useCache false the cache lookup is skipped but a successful read still refreshes the
// cache and the vector index.
func (e *Engine) ReadFile(ctx context.Context, server, path string, useCache bool) (content string, found bool, err error) {
	if err := e.enter(); err != nil {
		return "", false, err
	}
	defer e.leave()

	content, _, found, err = e.readFile(ctx, server, path, useCache)
	return content, found, err
}

// ReadRequest reads a "server:/path" or "server:alias" request
func (e *Engine) ReadRequest(ctx context.Context, request string) (types.SearchResult, bool, error) {
	if err := e.enter(); err != nil {
		return types.SearchResult{}, false, err
	}
	defer e.leave()

	req, err := policy.ParseFileRequest(request)
	if err != nil {
		return types.SearchResult{}, false, err
	}
	resolved, err := e.opts.Policy.Resolve(req.Server, req.Path)
	if err != nil {
		return types.SearchResult{}, false, err
	}

	content, source, found, err := e.readFile(ctx, req.Server, resolved, true)
	if err != nil || !found {
		return types.SearchResult{}, false, err
	}
	return types.SearchResult{
		Server:  req.Server,
		Path:    resolved,
		Content: content,
		Score:   1.0,
		Source:  source,
	}, true, nil
}

type fetched struct {
	content string
	found   bool
}

func (e *Engine) readFile(ctx context.Context, server, path string, useCache bool) (string, types.Source, bool, error) {
	if e.opts.Policy.IsExcluded(path) {
		return "", "", false, nil
	}

	if useCache {
		if content, ok := e.cached(ctx, server, path); ok {
			return content, types.SourceCache, true, nil
		}
	}

	if e.deps.Shell == nil || !e.deps.Shell.IsConfigured(server) || !e.deps.Shell.Available(server) {
		return "", "", false, nil
	}

	// Concurrent reads of one file share a single remote call. The fetch runs detached so a
	// cancelled caller does not fail the others.
	key := policy.CacheKey(server, path)
	ch := e.reads.DoChan(key, func() (interface{}, error) {
		return e.fetch(context.WithoutCancel(ctx), server, path)
	})

	select {
	case <-ctx.Done():
		return "", "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", "", false, res.Err
		}
		f := res.Val.(fetched)
		if !f.found {
			return "", "", false, nil
		}
		return f.content, types.SourceFilesystem, true, nil
	}
}

func (e *Engine) cached(ctx context.Context, server, path string) (string, bool) {
	if e.deps.Cache == nil {
		return "", false
	}
	data, ok, err := e.deps.Cache.Get(ctx, policy.CacheKey(server, path))
	if err != nil {
		e.logger.Debug("cache read failed", "server", server, "path", path, "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	return string(data), true
}

// fetch reads the file remotely and stores it. Transport failures count as absent.
func (e *Engine) fetch(ctx context.Context, server, path string) (fetched, error) {
	out, err := e.deps.Shell.Exec(ctx, server, policy.ReadCommand(path))
	if err != nil {
		e.logger.Warn("remote read failed", "server", server, "path", path, "err", err)
		return fetched{}, nil
	}
	if out.Stdout == "" {
		if out.Stderr != "" {
			e.logger.Debug("remote read returned no content", "server", server, "path", path, "stderr", out.Stderr)
		}
		return fetched{}, nil
	}

	e.store(ctx, server, path, out.Stdout)
	return fetched{content: out.Stdout, found: true}, nil
}

// store writes content to the cache, the category sets and the vector index. Failures are
// logged and never reach the reader.
func (e *Engine) store(ctx context.Context, server, path, content string) {
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Set(ctx, policy.CacheKey(server, path), []byte(content), e.opts.CacheTTL); err != nil {
			e.logger.Debug("cache write failed", "server", server, "path", path, "err", err)
		} else {
			member := policy.MemberKey(server, path)
			for _, category := range e.opts.Policy.Categorize(path) {
				if err := e.deps.Cache.AddToSet(ctx, policy.CategorySetKey(category), member); err != nil {
					e.logger.Debug("category update failed", "category", category, "err", err)
				}
			}
		}
	}

	if err := e.index(ctx, server, path, content); err != nil {
		e.logger.Warn("indexing failed", "server", server, "path", path, "err", err)
	}
}

func (e *Engine) index(ctx context.Context, server, path, content string) error {
	if e.deps.Index == nil || e.deps.Embedder == nil {
		return nil
	}
	if e.deps.Index.Current(server, path, content) {
		return nil
	}

	emb, err := e.deps.Embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
		Text: embedder.Truncate(content, e.opts.MaxEmbedChars),
	})
	if err != nil {
		if errors.Is(err, embedder.ErrEmptyText) {
			return nil
		}
		return fmt.Errorf("embed: %w", err)
	}

	if _, err := e.deps.Index.Add(ctx, vectorindex.Record{
		Server:    server,
		Path:      path,
		Content:   content,
		Vector:    emb.Vector,
		IndexedAt: time.Now(),
	}); err != nil {
		return err
	}
	e.compact(ctx)
	return nil
}
