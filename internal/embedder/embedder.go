package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Common errors
var (
	ErrInvalidInput      = eris.New("invalid input")
	ErrProviderFailed    = eris.New("embedding provider failed")
	ErrUnsupportedModel  = eris.New("unsupported model")
	ErrEmptyText         = eris.New("text cannot be empty")
	ErrBatchTooLarge     = eris.New("batch size exceeds limit")
	ErrNoProviderEnabled = eris.New("no embedding provider configured")
)

// Embedding is a vector with the provider metadata needed to store it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash of the embedded text
}

// Embedder turns segment descriptions and buyer queries into vectors
type Embedder interface {
	// GenerateEmbedding embeds a single text
	GenerateEmbedding(ctx context.Context, text string) (*Embedding, error)

	// GenerateBatch embeds texts in one call where the provider supports it.
	// The result is index-aligned with texts.
	GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error)

	Dimension() int
	Provider() string
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache is an LRU of embeddings keyed by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates an embedding cache holding at most maxLen vectors
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached embedding, so callers may mutate it freely
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := *emb
	out.Vector = append([]float32(nil), emb.Vector...)
	return &out, true
}

// Set stores a copy of emb; the least recently used entry is evicted when full
func (c *Cache) Set(hash string, emb *Embedding) {
	stored := *emb
	stored.Vector = append([]float32(nil), emb.Vector...)
	c.cache.Add(hash, &stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// SegmentText is the text a segment is embedded from
func SegmentText(seg types.Segment) string {
	parts := []string{seg.Name, seg.Description, seg.Provider, strings.Join(seg.Categories, ", ")}
	return strings.Join(parts, " | ")
}

// ComputeHash returns the hex SHA-256 of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func validateBatch(texts []string, max int) error {
	if len(texts) == 0 {
		return eris.Wrap(ErrInvalidInput, "no texts provided")
	}
	if max > 0 && len(texts) > max {
		return eris.Wrapf(ErrBatchTooLarge, "%d texts, max %d", len(texts), max)
	}
	for i, text := range texts {
		if text == "" {
			return eris.Wrapf(ErrEmptyText, "text at index %d", i)
		}
	}
	return nil
}

// cachedBatch serves what it can from cache and calls generate for the rest,
// preserving input order.
func cachedBatch(ctx context.Context, cache *Cache, texts []string,
	generate func(ctx context.Context, texts []string) ([]*Embedding, error)) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		hash := ComputeHash(text)
		if cache != nil {
			if emb, ok := cache.Get(hash); ok {
				out[i] = emb
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	generated, err := generate(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(generated) != len(missing) {
		return nil, eris.Wrapf(ErrProviderFailed, "expected %d embeddings, got %d", len(missing), len(generated))
	}
	for j, emb := range generated {
		emb.Hash = ComputeHash(missing[j])
		if cache != nil {
			cache.Set(emb.Hash, emb)
		}
		out[missingIdx[j]] = emb
	}
	return out, nil
}
