// Package vectorindex keeps file snapshots and their embeddings in memory for brute-force
// L2 search, backed by the SQLite storage layer.
package vectorindex
