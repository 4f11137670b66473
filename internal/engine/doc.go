// Package engine is the retrieval engine: it reads files from the fleet through the shell
// pool, caches them with a TTL, indexes their embeddings, and answers hybrid searches that
// merge vector and live filesystem results.
package engine
