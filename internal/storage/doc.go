// Package storage provides SQLite persistence for the vector index.
//
// The database holds two tables:
//   - index_meta: a single row with the embedding dimension, provider and model
//   - vector_records: an append-only log of embedded file snapshots
//
// Records are written with one INSERT each, so a record is either fully stored or absent.
// Ids come from AUTOINCREMENT and are never reused, even after DeleteRecords.
//
// # Drivers
//
// The default build uses modernc.org/sqlite (pure Go). Building with the sqlite_vec tag
// switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...
//
// # Migrations
//
// Schema changes are listed in AllMigrations and ordered by semantic version.
// NewSQLiteStorage applies the pending ones on open.
package storage
