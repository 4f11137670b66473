package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dshills/fleetctx/internal/cache"
	"github.com/dshills/fleetctx/internal/docsearch"
	"github.com/dshills/fleetctx/internal/embedder"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/internal/shell"
	"github.com/dshills/fleetctx/internal/storage"
	"github.com/dshills/fleetctx/internal/vectorindex"
	"github.com/dshills/fleetctx/pkg/types"
)

// Shell runs commands on remote servers. *shell.Pool implements it.
type Shell interface {
	ConnectAll(ctx context.Context) map[string]error
	Servers() []string
	Configured() []string
	IsConfigured(server string) bool
	Available(server string) bool
	Exec(ctx context.Context, server, command string) (shell.Output, error)
	Close() error
}

// Cache is the best-effort TTL store. *cache.Store implements it.
type Cache interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	AddToSet(ctx context.Context, key string, members ...string) error
	Members(ctx context.Context, key string) ([]string, error)
	Close() error
}

// Index is the vector index. *vectorindex.Index implements it.
type Index interface {
	Load(ctx context.Context) error
	Add(ctx context.Context, r vectorindex.Record) (int64, error)
	Current(server, path, content string) bool
	Search(ctx context.Context, query []float32, k int) ([]vectorindex.Hit, error)
	Persist(ctx context.Context) error
	Compact(ctx context.Context, maxRecords int) (int, error)
	Stats(ctx context.Context) (*storage.Status, error)
	Len() int
	Dimension() int
	Close() error
}

// Docs searches the local documentation tree. *docsearch.Searcher implements it.
type Docs interface {
	Search(ctx context.Context, queries []string) ([]types.SearchResult, error)
}

var (
	_ Shell = (*shell.Pool)(nil)
	_ Cache = (*cache.Store)(nil)
	_ Index = (*vectorindex.Index)(nil)
	_ Docs  = (*docsearch.Searcher)(nil)
)

// Deps are the engine's collaborators. Any of them may be nil; the engine then skips the
// corresponding source.
type Deps struct {
	Shell    Shell
	Cache    Cache
	Index    Index
	Embedder embedder.Embedder
	Docs     Docs
	Logger   *slog.Logger
}

// Options tune the engine
type Options struct {
	Policy *policy.Policy

	CacheTTL        time.Duration // default 300s
	VectorResults   int           // k for vector search, default 5
	MaxDistance     float64       // drop vector hits farther than this; 0 keeps all
	MaxCandidates   int           // filesystem candidates read per server and search, default 50
	MaxIndexRecords int           // compact the index above this many records; 0 is unbounded
	MaxEmbedChars   int           // embed at most this many bytes of content, default 8192
	WarmupWorkers   int           // default 4
	SkipWarmup      bool          // do not warm important paths during Initialize
}

const (
	DefaultCacheTTL      = 300 * time.Second
	DefaultVectorResults = 5
	DefaultMaxCandidates = 50
	DefaultMaxEmbedChars = 8192
	DefaultWarmupWorkers = 4
)

func (o *Options) applyDefaults() {
	if o.Policy == nil {
		o.Policy = policy.New(nil, nil, nil)
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.VectorResults <= 0 {
		o.VectorResults = DefaultVectorResults
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	if o.MaxEmbedChars <= 0 {
		o.MaxEmbedChars = DefaultMaxEmbedChars
	}
	if o.WarmupWorkers <= 0 {
		o.WarmupWorkers = DefaultWarmupWorkers
	}
}
