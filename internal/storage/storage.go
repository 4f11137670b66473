package storage

import (
	"context"
	"time"
)

// Storage persists the vector index: one meta row plus an append-only record log
type Storage interface {
	// Meta operations
	LoadMeta(ctx context.Context) (*Meta, error)
	SaveMeta(ctx context.Context, meta *Meta) error

	// Record operations
	InsertRecord(ctx context.Context, record *Record) error
	ListRecords(ctx context.Context) ([]*Record, error)
	DeleteRecords(ctx context.Context, ids []int64) (deletedCount int, err error)
	CountRecords(ctx context.Context) (int, error)

	// Database operations
	Checkpoint(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)
	Close() error
}

// Meta describes an index. Dimension is fixed at creation.
type Meta struct {
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Record is one embedded file snapshot
type Record struct {
	ID          int64
	Server      string
	Path        string
	Content     string
	ContentHash [32]byte
	Vector      []float32
	IndexedAt   time.Time
}

// Status summarizes the database
type Status struct {
	SchemaVersion string
	BuildMode     string
	Records       int
	SizeMB        float64
}
