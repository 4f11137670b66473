package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrWarmupInProgress is returned when Warm is called while another warmup runs
var ErrWarmupInProgress = errors.New("warmup already in progress")

// Target is one file to warm
type Target struct {
	Server string
	Path   string
}

// ReadFunc fetches a file, refreshing the cache and the vector index as a side effect.
// found is false when the file is absent, excluded or empty.
type ReadFunc func(ctx context.Context, server, path string) (found bool, err error)

// Statistics contains statistics about a warmup run
type Statistics struct {
	FilesWarmed   int
	FilesMissing  int
	FilesFailed   int
	StartTime     time.Time
	Duration      time.Duration
	ErrorMessages []string
}

// Indexer warms important files through a bounded worker pool
type Indexer struct {
	workers int
	logger  *slog.Logger
	lock    IndexLock

	mu   sync.Mutex
	last *Statistics
}

// New creates an indexer. workers <= 0 selects runtime.NumCPU().
func New(workers int, logger *slog.Logger) *Indexer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{workers: workers, logger: logger}
}

// Warm reads every target. Per-target failures are counted in the statistics and never
// returned; the only errors are ErrWarmupInProgress and cancellation of ctx.
func (idx *Indexer) Warm(ctx context.Context, targets []Target, read ReadFunc) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrWarmupInProgress
	}
	defer idx.lock.Release()

	stats := &Statistics{StartTime: time.Now(), ErrorMessages: make([]string, 0)}
	var (
		warmed  int32
		missing int32
		failed  int32
		mu      sync.Mutex // protects stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for _, target := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			found, err := read(gctx, target.Server, target.Path)
			switch {
			case err != nil:
				atomic.AddInt32(&failed, 1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s:%s: %v", target.Server, target.Path, err))
				mu.Unlock()
			case !found:
				atomic.AddInt32(&missing, 1)
			default:
				atomic.AddInt32(&warmed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.FilesWarmed = int(warmed)
	stats.FilesMissing = int(missing)
	stats.FilesFailed = int(failed)
	stats.Duration = time.Since(stats.StartTime)

	idx.mu.Lock()
	idx.last = stats
	idx.mu.Unlock()

	idx.logger.Info("warmup finished",
		"targets", len(targets),
		"warmed", stats.FilesWarmed,
		"missing", stats.FilesMissing,
		"failed", stats.FilesFailed,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Running reports whether a warmup is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// Last returns the statistics of the most recent completed warmup, or nil
func (idx *Indexer) Last() *Statistics {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.last
}
