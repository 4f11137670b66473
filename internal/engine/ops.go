package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/fleetctx/internal/indexer"
	"github.com/dshills/fleetctx/internal/policy"
)

// FindFiles returns the paths under the server's search roots whose file name matches the
// shell pattern, excluding policy-excluded directories
func (e *Engine) FindFiles(ctx context.Context, server, pattern string) ([]string, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	if !e.serverReady(server) {
		return nil, nil
	}

	var paths []string
	seen := make(map[string]struct{})
	for _, root := range e.opts.Policy.SearchRoots(server) {
		out, err := e.deps.Shell.Exec(ctx, server, e.opts.Policy.FindCommand(root, pattern))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("find failed", "server", server, "root", root, "err", err)
			continue
		}
		for _, p := range strings.Split(out.Stdout, "\n") {
			p = strings.TrimSpace(p)
			if p == "" || e.opts.Policy.IsExcluded(p) {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// ServiceLogs returns the last lines of a systemd unit's journal. Logs are never cached.
func (e *Engine) ServiceLogs(ctx context.Context, server, service string, lines int) (string, bool, error) {
	if err := e.enter(); err != nil {
		return "", false, err
	}
	defer e.leave()

	if strings.TrimSpace(service) == "" || !e.serverReady(server) {
		return "", false, nil
	}

	out, err := e.deps.Shell.Exec(ctx, server, policy.LogsCommand(service, lines))
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		e.logger.Warn("log read failed", "server", server, "service", service, "err", err)
		return "", false, nil
	}
	if out.Stdout == "" {
		return "", false, nil
	}
	return out.Stdout, true, nil
}

func (e *Engine) serverReady(server string) bool {
	return e.deps.Shell != nil && e.deps.Shell.IsConfigured(server) && e.deps.Shell.Available(server)
}

// Status describes the engine and its collaborators
type Status struct {
	State             string
	Configured        []string
	Available         []string
	IndexRecords      int
	IndexDimension    int
	IndexSchema       string
	IndexSizeMB       float64
	IndexError        string
	CachedFiles       int
	CacheHealthy      bool
	CacheError        string
	EmbeddingProvider string
	EmbeddingModel    string
	DocsRoot          string
	Warming           bool
	LastWarmup        *indexer.Statistics
}

// Status reports on the engine. It works in every state; collaborators are only queried
// while Ready.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st := &Status{State: e.State().String(), Warming: e.warmer.Running(), LastWarmup: e.warmer.Last()}

	if e.deps.Embedder != nil {
		st.EmbeddingProvider = e.deps.Embedder.Provider()
		st.EmbeddingModel = e.deps.Embedder.Model()
	}
	if r, ok := e.deps.Docs.(interface{ Root() string }); ok {
		st.DocsRoot = r.Root()
	}

	if err := e.enter(); err != nil {
		return st, nil
	}
	defer e.leave()

	if e.deps.Shell != nil {
		st.Configured = e.deps.Shell.Configured()
		st.Available = e.deps.Shell.Servers()
	}
	if e.deps.Index != nil {
		st.IndexRecords = e.deps.Index.Len()
		st.IndexDimension = e.deps.Index.Dimension()
		if stats, err := e.deps.Index.Stats(ctx); err != nil {
			st.IndexError = err.Error()
		} else {
			st.IndexSchema = stats.SchemaVersion
			st.IndexSizeMB = stats.SizeMB
		}
	}
	if e.deps.Cache != nil {
		keys, err := e.deps.Cache.Keys(ctx, policy.CacheKeyPrefix)
		if err != nil {
			st.CacheError = err.Error()
		} else {
			st.CacheHealthy = true
			st.CachedFiles = len(keys)
		}
	}
	return st, nil
}

// String renders the status as the get_status tool shows it
func (s *Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", s.State)
	fmt.Fprintf(&b, "Servers configured: %s\n", list(s.Configured))
	fmt.Fprintf(&b, "Servers available: %s\n", list(s.Available))
	fmt.Fprintf(&b, "Vector index: %d records (dimension %d)\n", s.IndexRecords, s.IndexDimension)
	if s.IndexSchema != "" {
		fmt.Fprintf(&b, "Index database: schema %s, %.2f MB\n", s.IndexSchema, s.IndexSizeMB)
	} else if s.IndexError != "" {
		fmt.Fprintf(&b, "Index database: unavailable (%s)\n", s.IndexError)
	}
	if s.EmbeddingProvider != "" {
		fmt.Fprintf(&b, "Embeddings: %s/%s\n", s.EmbeddingProvider, s.EmbeddingModel)
	}
	if s.CacheHealthy {
		fmt.Fprintf(&b, "Cache: healthy, %d files cached\n", s.CachedFiles)
	} else if s.CacheError != "" {
		fmt.Fprintf(&b, "Cache: unavailable (%s)\n", s.CacheError)
	} else {
		b.WriteString("Cache: not checked\n")
	}
	if s.DocsRoot != "" {
		fmt.Fprintf(&b, "Documentation root: %s\n", s.DocsRoot)
	}
	if s.Warming {
		b.WriteString("Warmup: running\n")
	}
	if w := s.LastWarmup; w != nil {
		fmt.Fprintf(&b, "Last warmup: %d warmed, %d missing, %d failed in %s\n",
			w.FilesWarmed, w.FilesMissing, w.FilesFailed, w.Duration)
	}
	return b.String()
}

func list(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
