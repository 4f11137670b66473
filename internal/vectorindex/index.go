package vectorindex

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dshills/fleetctx/internal/storage"
)

var (
	// ErrDimensionMismatch is returned for vectors (or stored indexes) of the wrong dimension
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrPersist is returned when a change could not be written; memory is left untouched
	ErrPersist = errors.New("persist failed")
	// ErrLocked is returned when another process holds the index
	ErrLocked = errors.New("index locked by another process")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("index closed")
)

// Record is one indexed file snapshot
type Record struct {
	ID        int64
	Server    string
	Path      string
	Content   string
	Vector    []float32
	IndexedAt time.Time

	hash [32]byte
}

// Hit is a search result. Lower distance means more similar.
type Hit struct {
	Record
	Distance float64 // squared L2
}

// Index is a flat in-memory L2 index whose records are persisted before they become visible
type Index struct {
	store     storage.Storage
	lock      *flock.Flock
	dimension int
	provider  string
	model     string
	logger    *slog.Logger

	mu      sync.RWMutex
	records []*Record
	latest  map[string]*Record // server:path -> newest record
	closed  bool
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the index logger
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithEmbedding records which embedding provider and model produced the vectors
func WithEmbedding(provider, model string) Option {
	return func(ix *Index) {
		ix.provider = provider
		ix.model = model
	}
}

// Open locks <path>.lock and opens the SQLite database at path. The index is empty until Load.
func Open(path string, dimension int, opts ...Option) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot acquire index lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	ix := New(store, dimension, opts...)
	ix.lock = lock
	return ix, nil
}

// New wraps an already opened store without taking the file lock
func New(store storage.Storage, dimension int, opts ...Option) *Index {
	ix := &Index{
		store:     store,
		dimension: dimension,
		provider:  "local",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		latest:    make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Load rebuilds the in-memory state from storage, creating the index meta on first use.
// Loading twice yields the same state.
func (ix *Index) Load(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return ErrClosed
	}

	meta, err := ix.store.LoadMeta(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		meta = &storage.Meta{Dimension: ix.dimension, Provider: ix.provider, Model: ix.model}
		if err := ix.store.SaveMeta(ctx, meta); err != nil {
			return fmt.Errorf("%w: %v", ErrPersist, err)
		}
	case err != nil:
		return fmt.Errorf("load index meta: %w", err)
	}
	if meta.Dimension != ix.dimension {
		return fmt.Errorf("%w: index has %d, embedder produces %d", ErrDimensionMismatch, meta.Dimension, ix.dimension)
	}
	if meta.Provider != ix.provider || meta.Model != ix.model {
		ix.logger.Warn("index was built with a different embedder",
			"stored_provider", meta.Provider,
			"stored_model", meta.Model,
			"provider", ix.provider,
			"model", ix.model,
		)
	}

	stored, err := ix.store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	records := make([]*Record, 0, len(stored))
	latest := make(map[string]*Record, len(stored))
	for _, s := range stored {
		if len(s.Vector) != ix.dimension {
			ix.logger.Warn("skipping record with wrong dimension", "id", s.ID, "dimension", len(s.Vector))
			continue
		}
		r := &Record{
			ID:        s.ID,
			Server:    s.Server,
			Path:      s.Path,
			Content:   s.Content,
			Vector:    s.Vector,
			IndexedAt: s.IndexedAt,
			hash:      s.ContentHash,
		}
		records = append(records, r)
		latest[locationKey(r.Server, r.Path)] = r
	}

	ix.records = records
	ix.latest = latest
	ix.logger.Info("index loaded", "records", len(records), "dimension", ix.dimension)
	return nil
}

// Add persists r and then publishes it. The assigned id is returned.
func (ix *Index) Add(ctx context.Context, r Record) (int64, error) {
	if len(r.Vector) != ix.dimension {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(r.Vector), ix.dimension)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return 0, ErrClosed
	}

	vector := make([]float32, len(r.Vector))
	copy(vector, r.Vector)

	stored := &storage.Record{
		Server:      r.Server,
		Path:        r.Path,
		Content:     r.Content,
		ContentHash: sha256.Sum256([]byte(r.Content)),
		Vector:      vector,
		IndexedAt:   r.IndexedAt,
	}
	if err := ix.store.InsertRecord(ctx, stored); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	rec := &Record{
		ID:        stored.ID,
		Server:    stored.Server,
		Path:      stored.Path,
		Content:   stored.Content,
		Vector:    vector,
		IndexedAt: stored.IndexedAt,
		hash:      stored.ContentHash,
	}
	ix.records = append(ix.records, rec)
	ix.latest[locationKey(rec.Server, rec.Path)] = rec
	return rec.ID, nil
}

// Current reports whether the newest record for server:path holds exactly content
func (ix *Index) Current(server, path, content string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	r, ok := ix.latest[locationKey(server, path)]
	return ok && r.hash == sha256.Sum256([]byte(content))
}

// Search returns up to k nearest records by ascending squared L2 distance, ties by id
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), ix.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, ErrClosed
	}

	hits := make([]Hit, 0, len(ix.records))
	for i, r := range ix.records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits = append(hits, Hit{Record: *r, Distance: SquaredL2(query, r.Vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Persist flushes pending writes to the database file. Records are already durable after Add.
func (ix *Index) Persist(ctx context.Context) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return ErrClosed
	}
	if err := ix.store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Compact removes records superseded by a newer record for the same server and path, then
// the oldest records until at most maxRecords remain (maxRecords <= 0 keeps every current
// record). It returns the number of records removed.
func (ix *Index) Compact(ctx context.Context, maxRecords int) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return 0, ErrClosed
	}

	remove := make(map[int64]struct{})
	kept := make([]*Record, 0, len(ix.records))
	for _, r := range ix.records {
		if ix.latest[locationKey(r.Server, r.Path)] != r {
			remove[r.ID] = struct{}{}
			continue
		}
		kept = append(kept, r)
	}
	if maxRecords > 0 && len(kept) > maxRecords {
		// records are in id order, so the oldest come first
		for _, r := range kept[:len(kept)-maxRecords] {
			remove[r.ID] = struct{}{}
		}
		kept = kept[len(kept)-maxRecords:]
	}
	if len(remove) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(remove))
	for id := range remove {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err := ix.store.DeleteRecords(ctx, ids); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	latest := make(map[string]*Record, len(kept))
	for _, r := range kept {
		latest[locationKey(r.Server, r.Path)] = r
	}
	ix.records = kept
	ix.latest = latest
	ix.logger.Info("index compacted", "removed", len(ids), "remaining", len(kept))
	return len(ids), nil
}

// Len returns the number of visible records
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Stats reports the schema version and size of the backing database
func (ix *Index) Stats(ctx context.Context) (*storage.Status, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, ErrClosed
	}
	return ix.store.Status(ctx)
}

// Dimension returns the fixed vector dimension
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Close releases the database and the file lock. Calling it twice is a no-op.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true

	var errs []error
	if err := ix.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if ix.lock != nil {
		if err := ix.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
	}
	ix.records = nil
	ix.latest = nil
	return errors.Join(errs...)
}

// SquaredL2 is the squared Euclidean distance between equal-length vectors
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func locationKey(server, path string) string {
	return server + ":" + path
}
