package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when the index meta row is written twice
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage opens the database at dbPath and applies pending migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Meta operations

func (s *SQLiteStorage) LoadMeta(ctx context.Context) (*Meta, error) {
	var meta Meta
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, provider, model, created_at FROM index_meta WHERE id = 1`,
	).Scan(&meta.Dimension, &meta.Provider, &meta.Model, &meta.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index meta: %w", err)
	}
	return &meta, nil
}

// SaveMeta writes the meta row once. A second call returns ErrAlreadyExists.
func (s *SQLiteStorage) SaveMeta(ctx context.Context, meta *Meta) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO index_meta (id, dimension, provider, model, created_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, meta.Dimension, meta.Provider, meta.Model, meta.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save index meta: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Record operations

// InsertRecord appends record in a single statement and sets its ID
func (s *SQLiteStorage) InsertRecord(ctx context.Context, record *Record) error {
	if record.IndexedAt.IsZero() {
		record.IndexedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_records (server, path, content, content_hash, vector, dimension, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.Server, record.Path, record.Content, record.ContentHash[:],
		SerializeVector(record.Vector), len(record.Vector), record.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = id
	return nil
}

// ListRecords returns every record in id order
func (s *SQLiteStorage) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server, path, content, content_hash, vector, dimension, indexed_at
		FROM vector_records
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			r         Record
			hash      []byte
			blob      []byte
			dimension int
		)
		if err := rows.Scan(&r.ID, &r.Server, &r.Path, &r.Content, &hash, &blob, &dimension, &r.IndexedAt); err != nil {
			return nil, err
		}
		copy(r.ContentHash[:], hash)
		r.Vector = DeserializeVector(blob)
		if len(r.Vector) != dimension {
			return nil, fmt.Errorf("record %d: stored %d values, declared dimension %d", r.ID, len(r.Vector), dimension)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// DeleteRecords deletes the given ids in a single query
func (s *SQLiteStorage) DeleteRecords(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `DELETE FROM vector_records WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_records").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Database operations

// Checkpoint flushes the write-ahead log into the main database file
func (s *SQLiteStorage) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	count, err := s.CountRecords(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		SchemaVersion: version.String(),
		BuildMode:     BuildMode,
		Records:       count,
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}
	return status, nil
}
