package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeHash(""))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ComputeHash("hello world"))
	assert.Equal(t, ComputeHash("test"), ComputeHash("test"))
}

func TestCacheReturnsCopies(t *testing.T) {
	cache := NewCache(2)
	original := &Embedding{Vector: []float32{1, 2}, Dimension: 2}
	cache.Set("a", original)

	original.Vector[0] = 99
	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got.Vector)

	got.Vector[1] = 42
	again, _ := cache.Get("a")
	assert.Equal(t, []float32{1, 2}, again.Vector)

	cache.Set("b", &Embedding{})
	cache.Set("c", &Embedding{})
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("a")
	assert.False(t, ok, "least recently used entry evicted")

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestValidateBatch(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		max     int
		wantErr error
	}{
		{"valid", []string{"a", "b"}, 10, nil},
		{"empty batch", nil, 10, ErrInvalidInput},
		{"empty text", []string{"a", ""}, 10, ErrEmptyText},
		{"too large", []string{"a", "b", "c"}, 2, ErrBatchTooLarge},
		{"unbounded", []string{"a", "b", "c"}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBatch(tt.texts, tt.max)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider(NewCache(100))
	ctx := context.Background()

	emb, err := p.GenerateEmbedding(ctx, "Luxury Automotive Intenders")
	require.NoError(t, err)
	assert.Len(t, emb.Vector, LocalDimension)
	assert.Equal(t, LocalDimension, emb.Dimension)
	assert.Equal(t, ProviderLocal, emb.Provider)
	assert.Equal(t, ComputeHash("Luxury Automotive Intenders"), emb.Hash)
	assert.InDelta(t, 1.0, storage.CosineSimilarity(emb.Vector, emb.Vector), 1e-5)

	again, err := p.GenerateEmbedding(ctx, "Luxury Automotive Intenders")
	require.NoError(t, err)
	assert.Equal(t, emb.Vector, again.Vector, "deterministic")

	_, err = p.GenerateEmbedding(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestLocalProviderSimilarity(t *testing.T) {
	p := NewLocalProvider(nil)
	ctx := context.Background()

	batch, err := p.GenerateBatch(ctx, []string{
		"luxury car buyers",
		"Luxury Automotive Intenders | buyers researching luxury cars",
		"Eco conscious travelers who prefer sustainable travel",
	})
	require.NoError(t, err)
	require.Len(t, batch, 3)

	related := storage.CosineSimilarity(batch[0].Vector, batch[1].Vector)
	unrelated := storage.CosineSimilarity(batch[0].Vector, batch[2].Vector)
	assert.Greater(t, related, unrelated)
	assert.Greater(t, related, 0.3)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"sport", "fan", "ctv"}, Tokens("Sports fans on CTV"))
	assert.Equal(t, []string{"glass", "18", "24"}, Tokens("glass 18-24"))
	assert.Empty(t, Tokens("the of and"))
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.EmbeddingConfig
		provider string
		wantErr  bool
	}{
		{"default local", config.EmbeddingConfig{}, ProviderLocal, false},
		{"local", config.EmbeddingConfig{Provider: "LOCAL"}, ProviderLocal, false},
		{"jina with key", config.EmbeddingConfig{Provider: "jina", APIKey: "k"}, ProviderJina, false},
		{"openai with key", config.EmbeddingConfig{Provider: "openai", APIKey: "k"}, ProviderOpenAI, false},
		{"jina without key", config.EmbeddingConfig{Provider: "jina"}, "", true},
		{"unknown", config.EmbeddingConfig{Provider: "word2vec"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, emb.Provider())
			assert.NoError(t, emb.Close())
		})
	}
}
