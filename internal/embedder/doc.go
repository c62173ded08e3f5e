// Package embedder turns text into vectors and buyer queries into related
// search terms.
//
// # Embedding
//
// Three providers implement Embedder:
//
//   - jina: Jina AI embeddings API (1024 dimensions)
//   - openai: OpenAI embeddings API (1536 dimensions)
//   - local: offline feature hashing (384 dimensions), the default
//
// Remote providers retry transient failures with exponential backoff and
// never retry 4xx responses other than 429. All providers share an LRU cache
// keyed by the SHA-256 of the input text.
//
//	emb, err := embedder.New(cfg.Embedding)
//	vectors, err := emb.GenerateBatch(ctx, []string{"luxury auto", "car buyers"})
//
// Catalog vectors and query vectors must come from the same provider; vectors
// of a different dimension are ignored at search time.
//
// # Expansion
//
// Expander implementations return the original query followed by related
// terms. AnthropicExpander asks a Claude model and is rate limited;
// LocalExpander reads a synonym table. Expansion failures wrap
// types.ErrExpansionFailed so callers can degrade to the original query.
package embedder
