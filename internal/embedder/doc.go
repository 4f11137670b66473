// Package embedder turns file contents and queries into fixed-dimension vectors.
//
// Three providers are available:
//   - local: offline feature hashing (xxhash over tokens and character trigrams), the default
//   - openai: the OpenAI embeddings API
//   - jina: the Jina AI embeddings API
//
// Both HTTP providers share HTTPProvider, which speaks the common {"input","model"} request
// format and retries transient failures with exponential backoff. Client errors other than
// 429 are not retried.
//
// # Provider Selection
//
// NewFromEnv picks a provider from the environment:
//
//  1. If FLEETCTX_EMBEDDING_PROVIDER is set, use it
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else fall back to the local provider
//
// # Caching
//
// Providers accept an optional LRU Cache keyed by content hash. Cached vectors are copied
// on read.
//
// The vector index stores one dimension for its whole life, so switching providers
// requires a new index file.
package embedder
