package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/fleetctx/internal/indexer"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/pkg/types"
)

// Engine retrieves, caches and indexes files from the configured servers.
// Build one with New, call Initialize once, share it, and Close it on shutdown.
type Engine struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
	warmer *indexer.Indexer

	reads singleflight.Group

	initMu   sync.Mutex // serializes Initialize and Close
	mu       sync.Mutex
	state    State
	inflight sync.WaitGroup
}

// New creates an engine in the Uninitialized state
func New(opts Options, deps Deps) *Engine {
	opts.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		opts:   opts,
		deps:   deps,
		logger: logger,
		warmer: indexer.New(opts.WarmupWorkers, logger),
	}
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Policy returns the path policy in use
func (e *Engine) Policy() *policy.Policy {
	return e.opts.Policy
}

// Initialize connects the cache and the servers, loads the vector index and warms the
// important paths, in that order. Cache and server failures degrade; an index load failure
// is returned and leaves the engine Uninitialized. Initializing a Ready engine is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	switch e.state {
	case StateReady:
		e.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		e.mu.Unlock()
		return fmt.Errorf("%w: engine is %s", types.ErrNotReady, e.state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	start := time.Now()
	if err := e.initialize(ctx); err != nil {
		e.setState(StateUninitialized)
		e.logger.Error("initialize failed", "err", err)
		return err
	}

	e.setState(StateReady)
	e.logger.Info("engine ready", "duration", time.Since(start))
	return nil
}

func (e *Engine) initialize(ctx context.Context) error {
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Ping(ctx); err != nil {
			e.logger.Warn("cache unavailable, continuing without it", "err", err)
		}
	}

	if e.deps.Shell != nil {
		for server, err := range e.deps.Shell.ConnectAll(ctx) {
			e.logger.Warn("server unavailable", "server", server, "err", err)
		}
	}

	if e.deps.Index != nil {
		if err := e.deps.Index.Load(ctx); err != nil {
			return fmt.Errorf("load vector index: %w", err)
		}
		e.compact(ctx)
	}

	if e.opts.SkipWarmup {
		return nil
	}
	if _, err := e.warm(ctx); err != nil {
		// Only cancellation reaches here
		return err
	}
	return nil
}

// Warm re-reads every important path bypassing the cache, refreshing cache and index.
// It returns indexer.ErrWarmupInProgress when a warmup is already running.
func (e *Engine) Warm(ctx context.Context) (*indexer.Statistics, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()
	return e.warm(ctx)
}

func (e *Engine) warm(ctx context.Context) (*indexer.Statistics, error) {
	var targets []indexer.Target
	if e.deps.Shell != nil {
		for _, server := range e.deps.Shell.Configured() {
			for _, p := range e.opts.Policy.ImportantPaths(server) {
				targets = append(targets, indexer.Target{Server: server, Path: p})
			}
		}
	}

	return e.warmer.Warm(ctx, targets, func(ctx context.Context, server, path string) (bool, error) {
		_, _, found, err := e.readFile(ctx, server, path, false)
		return found, err
	})
}

// Close releases the cache, the server sessions, the index and the embedder. Closing a
// never-initialized or already closed engine succeeds.
func (e *Engine) Close(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosing
	e.mu.Unlock()

	// In-flight operations finish before resources go away
	e.inflight.Wait()

	var errs []error
	if e.deps.Index != nil {
		if err := e.deps.Index.Persist(ctx); err != nil {
			e.logger.Warn("final index persist failed", "err", err)
		}
		if err := e.deps.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if e.deps.Shell != nil {
		if err := e.deps.Shell.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shell: %w", err))
		}
	}
	if e.deps.Embedder != nil {
		if err := e.deps.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}

	e.setState(StateClosed)
	e.logger.Info("engine closed")
	return errors.Join(errs...)
}

// enter admits an operation if the engine is Ready; pair with leave
func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return fmt.Errorf("%w: engine is %s", types.ErrNotReady, e.state)
	}
	e.inflight.Add(1)
	return nil
}

func (e *Engine) leave() {
	e.inflight.Done()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// compact applies the index retention limit
func (e *Engine) compact(ctx context.Context) {
	if e.deps.Index == nil || e.opts.MaxIndexRecords <= 0 || e.deps.Index.Len() <= e.opts.MaxIndexRecords {
		return
	}
	removed, err := e.deps.Index.Compact(ctx, e.opts.MaxIndexRecords)
	if err != nil {
		e.logger.Warn("index compaction failed", "err", err)
		return
	}
	e.logger.Info("index compacted", "removed", removed, "limit", e.opts.MaxIndexRecords)
}
