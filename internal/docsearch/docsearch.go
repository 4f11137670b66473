// Package docsearch scans a local documentation tree for paragraphs mentioning a query.
package docsearch

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/fleetctx/pkg/types"
)

// DefaultPatterns select the files searched when none are configured
var DefaultPatterns = []string{"**/*.md", "**/*.txt"}

// Searcher reads documentation under a root directory. It never writes.
type Searcher struct {
	root     string
	patterns []string
	logger   *slog.Logger
}

// New creates a searcher. Nil patterns select DefaultPatterns.
func New(root string, patterns []string, logger *slog.Logger) *Searcher {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Searcher{root: root, patterns: patterns, logger: logger}
}

// Root returns the documentation directory
func (s *Searcher) Root() string {
	return s.root
}

// Search returns one result per file whose text contains any query, in path order.
// The first query (in the given order) found in a file is its match; the result content
// holds every paragraph of that file containing the match. A missing root yields no results.
func (s *Searcher) Search(ctx context.Context, queries []string) ([]types.SearchResult, error) {
	terms := normalize(queries)
	if len(terms) == 0 || s.root == "" {
		return nil, nil
	}

	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		s.logger.Warn("documentation root not found", "root", s.root)
		return nil, nil
	}

	files, err := s.files()
	if err != nil {
		s.logger.Error("documentation walk failed", "root", s.root, "err", err)
		return nil, nil
	}

	fsys := os.DirFS(s.root)
	var results []types.SearchResult
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			s.logger.Warn("skipping unreadable documentation file", "path", name, "err", err)
			continue
		}

		if r, ok := match(name, string(data), terms); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// files lists the matching relative paths, sorted and deduplicated across patterns
func (s *Searcher) files() ([]string, error) {
	fsys := os.DirFS(s.root)
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range s.patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

type term struct {
	original string
	lower    string
}

func normalize(queries []string) []term {
	var out []term
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, term{original: q, lower: strings.ToLower(q)})
	}
	return out
}

func match(name, content string, terms []term) (types.SearchResult, bool) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lower := strings.ToLower(content)

	for _, t := range terms {
		if !strings.Contains(lower, t.lower) {
			continue
		}

		// The first matching term decides, even if it only matches across a paragraph break
		var paragraphs []string
		for _, p := range strings.Split(content, "\n\n") {
			if strings.Contains(strings.ToLower(p), t.lower) {
				paragraphs = append(paragraphs, strings.TrimSpace(p))
			}
		}
		if len(paragraphs) == 0 {
			return types.SearchResult{}, false
		}
		return types.SearchResult{
			Path:    name,
			Content: strings.Join(paragraphs, "\n"),
			Score:   1.0,
			Source:  types.SourceDocumentation,
			Match:   t.original,
		}, true
	}
	return types.SearchResult{}, false
}

// Format renders results the way the answer layer expects them
func Format(results []types.SearchResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, "From "+r.Path+" (matched query: "+r.Match+"):\n"+r.Content)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
