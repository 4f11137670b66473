package policy

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludedDirs are directory names never searched or returned
var DefaultExcludedDirs = []string{
	"node_modules",
	"dist",
	"dist.browser",
	"build",
	"vendor",
	".git",
	"__pycache__",
	"cache",
	"tmp",
}

// DefaultCategories maps a category tag to the file-name patterns that select it
var DefaultCategories = map[string][]string{
	"env":     {".env", "*.env", ".env.*"},
	"json":    {"*.json"},
	"yaml":    {"*.yaml", "*.yml"},
	"conf":    {"*.conf", "*.config", "config.*"},
	"ini":     {"*.ini"},
	"service": {"*.service"},
	"log":     {"*.log", "*.log.[0-9]*"},
	"rc":      {"*rc", ".*rc"},
}

var (
	ErrInvalidRequest = errors.New("invalid file request")
	ErrUnknownAlias   = errors.New("unknown path alias")
)

// Server holds the per-server part of the policy
type Server struct {
	SearchRoots    []string
	ImportantPaths []string
	Aliases        map[string]string
}

// Policy describes where the engine may look and what it must never return
type Policy struct {
	Servers      map[string]Server
	ExcludedDirs []string
	Categories   map[string][]string

	excluded map[string]struct{}
}

// New builds a policy. Nil excluded dirs or categories select the defaults.
func New(servers map[string]Server, excludedDirs []string, categories map[string][]string) *Policy {
	if servers == nil {
		servers = map[string]Server{}
	}
	if excludedDirs == nil {
		excludedDirs = DefaultExcludedDirs
	}
	if categories == nil {
		categories = DefaultCategories
	}

	excluded := make(map[string]struct{}, len(excludedDirs))
	for _, d := range excludedDirs {
		d = strings.Trim(d, "/")
		if d != "" {
			excluded[d] = struct{}{}
		}
	}

	return &Policy{
		Servers:      servers,
		ExcludedDirs: excludedDirs,
		Categories:   categories,
		excluded:     excluded,
	}
}

// IsExcluded reports whether any directory segment of p is an excluded directory.
// The last segment is the file name and never counts as a directory. Segments are checked
// as written: "/opt/node_modules/../x" is excluded even though it cleans to "/opt/x".
func (p *Policy) IsExcluded(filePath string) bool {
	segs := strings.Split(filePath, "/")
	for _, seg := range segs[:len(segs)-1] {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if _, ok := p.excluded[seg]; ok {
			return true
		}
	}
	return false
}

// SearchRoots returns the configured roots for a server
func (p *Policy) SearchRoots(server string) []string {
	return p.Servers[server].SearchRoots
}

// ImportantPaths returns the paths warmed at startup for a server
func (p *Policy) ImportantPaths(server string) []string {
	return p.Servers[server].ImportantPaths
}

// Resolve maps an alias (e.g. "env") to its absolute path on the server.
// Absolute paths are returned unchanged.
func (p *Policy) Resolve(server, pathOrAlias string) (string, error) {
	if strings.HasPrefix(pathOrAlias, "/") {
		return pathOrAlias, nil
	}
	if resolved, ok := p.Servers[server].Aliases[pathOrAlias]; ok {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrUnknownAlias, pathOrAlias, server)
}

// Categorize returns the sorted category tags whose patterns match the file name
func (p *Policy) Categorize(filePath string) []string {
	base := path.Base(filePath)
	var out []string
	for category, patterns := range p.Categories {
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, base); ok {
				out = append(out, category)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// CacheKey is the cache key for a file. It depends on server and path only.
func CacheKey(server, filePath string) string {
	return "file:" + server + ":" + filePath
}

// CacheKeyPrefix is the prefix shared by every file cache key
const CacheKeyPrefix = "file:"

// CategorySetKey is the set holding members tagged with category
func CategorySetKey(category string) string {
	return "idx:category:" + category
}

// MemberKey identifies a file inside category sets
func MemberKey(server, filePath string) string {
	return server + ":" + filePath
}

// FileRequest is a parsed "server:path" request
type FileRequest struct {
	Server string
	Path   string
}

// ParseFileRequest parses "server:/path" or "server:alias"
func ParseFileRequest(s string) (FileRequest, error) {
	server, p, ok := strings.Cut(s, ":")
	server = strings.ToLower(strings.TrimSpace(server))
	p = strings.TrimSpace(p)
	if !ok || server == "" || p == "" {
		return FileRequest{}, fmt.Errorf("%w: %q (want server:/path)", ErrInvalidRequest, s)
	}
	return FileRequest{Server: server, Path: p}, nil
}
