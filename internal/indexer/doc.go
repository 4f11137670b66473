// Package indexer warms the cache and the vector index with a server's important files.
//
// Warm fans the targets out over an errgroup limited to the configured number of workers.
// A second Warm while one is running fails fast with ErrWarmupInProgress.
package indexer
