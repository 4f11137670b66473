package types

import "fmt"

// Source identifies where a search result came from
type Source string

const (
	SourceFilesystem    Source = "filesystem"    // Live remote read
	SourceCache         Source = "cache"         // Served from the key-value cache
	SourceVector        Source = "vector"        // Vector index hit
	SourceDocumentation Source = "documentation" // Local documentation tree
)

// Valid reports whether s is one of the known sources
func (s Source) Valid() bool {
	switch s {
	case SourceFilesystem, SourceCache, SourceVector, SourceDocumentation:
		return true
	}
	return false
}

// SearchResult is the single result shape shared by every source.
//
// Score is higher-is-better for every source. Vector hits additionally carry the raw
// squared L2 distance (lower-is-better) in Distance.
type SearchResult struct {
	Server  string
	Path    string
	Content string
	Score   float64
	Source  Source

	// Distance is set for vector hits only
	Distance float64
	// Match is the query term that selected a documentation paragraph
	Match string
}

// Key returns the "server:path" identity of the result
func (r *SearchResult) Key() string {
	return fmt.Sprintf("%s:%s", r.Server, r.Path)
}
