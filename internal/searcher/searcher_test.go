package searcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcontextprotocol/signals-agent/internal/embedder"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
	"github.com/adcontextprotocol/signals-agent/internal/strategy"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

type fakeLive struct {
	calls   atomic.Int32
	results map[string]types.AdapterResult
}

func (f *fakeLive) Fetch(context.Context, types.Principal, []string) map[string]types.AdapterResult {
	f.calls.Add(1)
	out := make(map[string]types.AdapterResult, len(f.results))
	for k, v := range f.results {
		out[k] = v
	}
	return out
}

type failingExpander struct{}

func (failingExpander) Expand(context.Context, string) ([]string, error) {
	return nil, errors.New("model overloaded")
}

type slowExpander struct{}

func (slowExpander) Expand(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingEmbedder stands in for an unreachable embedding service
type failingEmbedder struct {
	embedder.Embedder
}

func (failingEmbedder) GenerateBatch(context.Context, []string) ([]*embedder.Embedding, error) {
	return nil, errors.New("embedding service unavailable")
}

// blockingEmbedder never answers before the caller gives up
type blockingEmbedder struct {
	embedder.Embedder
}

func (blockingEmbedder) GenerateBatch(ctx context.Context, _ []string) ([]*embedder.Embedding, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenFTSStore fails every keyword search
type brokenFTSStore struct {
	storage.CatalogStore
}

func (brokenFTSStore) SearchFTS(context.Context, string, int) ([]storage.TextResult, error) {
	return nil, errors.New("fts index corrupt")
}

// setupTestSearcher creates an in-memory catalog with embeddings from the local embedder
func setupTestSearcher(t *testing.T) (storage.CatalogStore, embedder.Embedder) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewLocalProvider(embedder.NewCache(100))

	segments := []*types.Segment{
		{
			ID:          "luxury_auto_intenders",
			Name:        "Luxury Automotive Intenders",
			Description: "Consumers researching luxury vehicles in the last 30 days",
			Provider:    "Experian",
			Categories:  []string{"automotive", "intent"},
			CPM:         types.Float(6.0),
		},
		{
			ID:            "sports_enthusiasts_public",
			Name:          "Sports Enthusiasts",
			Description:   "Fans of live sports and sports streaming",
			Provider:      "Polk",
			Categories:    []string{"sports"},
			CatalogAccess: types.AccessPublic,
		},
		{
			ID:          "eco_travelers",
			Name:        "Eco Conscious Travelers",
			Description: "Travelers who prefer sustainable travel options",
			Provider:    "Acme Data",
		},
	}
	for _, seg := range segments {
		require.NoError(t, store.UpsertSegment(ctx, seg))
		text := embedder.SegmentText(*seg)
		e, err := emb.GenerateEmbedding(ctx, text)
		require.NoError(t, err)
		require.NoError(t, store.UpsertEmbedding(ctx, &storage.Embedding{
			SegmentID:   seg.ID,
			Vector:      e.Vector,
			Dimension:   e.Dimension,
			Provider:    e.Provider,
			Model:       e.Model,
			ContentHash: embedder.ComputeHash(text),
		}))
	}
	return store, emb
}

func demoLive() *fakeLive {
	return &fakeLive{results: map[string]types.AdapterResult{
		"demo": {
			Platform: "demo",
			Segments: []types.Segment{{
				ID: "demo_luxury_shoppers", Name: "Luxury Shoppers", Provider: "Demo",
				Platform: "demo", Source: types.SourcePlatformLive,
			}},
		},
		"broken": {
			Platform: "broken",
			Failure:  types.FailureTimeout,
			Segments: []types.Segment{{ID: "broken_seg", Name: "Luxury", Platform: "broken"}},
		},
	}}
}

func candidateIDs(cs []types.ScoredCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Segment.ID
	}
	return out
}

func TestSearchModes(t *testing.T) {
	store, emb := setupTestSearcher(t)
	s := New(store, emb, nil, nil, Options{})
	ctx := context.Background()

	t.Run("keyword only", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{
			Query:    "luxury AND automotive",
			Strategy: strategy.Strategy{Mode: strategy.ModeFTS},
			Pool:     10,
		})
		require.NoError(t, err)
		require.Len(t, resp.Candidates, 1)

		c := resp.Candidates[0]
		assert.Equal(t, "luxury_auto_intenders", c.Segment.ID)
		require.NotNil(t, c.FTSScore)
		assert.InDelta(t, 1.0, *c.FTSScore, 1e-9)
		assert.Nil(t, c.VectorScore)
		assert.Equal(t, 1, resp.TextHits)
		assert.Zero(t, resp.VectorHits)
	})

	t.Run("similarity only", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{
			Query:    "luxury vehicles",
			Strategy: strategy.Strategy{Mode: strategy.ModeRAG},
			Pool:     10,
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Candidates)

		top := resp.Candidates[0]
		assert.Equal(t, "luxury_auto_intenders", top.Segment.ID)
		assert.NotNil(t, top.VectorScore)
		assert.Nil(t, top.FTSScore)
		assert.Zero(t, resp.TextHits)
		assert.Equal(t, 3, resp.VectorHits)
		assert.Equal(t, []string{"luxury vehicles"}, resp.Terms)
	})

	t.Run("hybrid", func(t *testing.T) {
		resp, err := s.Search(ctx, Request{
			Query:    "sports fans",
			Strategy: strategy.Strategy{Mode: strategy.ModeHybrid},
			Pool:     10,
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Candidates)

		top := resp.Candidates[0]
		assert.Equal(t, "sports_enthusiasts_public", top.Segment.ID)
		assert.NotNil(t, top.FTSScore)
		assert.NotNil(t, top.VectorScore)
	})
}

func TestSearchEmptyQuery(t *testing.T) {
	store, emb := setupTestSearcher(t)
	live := demoLive()
	s := New(store, emb, nil, live, Options{})

	resp, err := s.Search(context.Background(), Request{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)
	assert.Zero(t, live.calls.Load())
}

func TestSearchMergesLiveResults(t *testing.T) {
	store, emb := setupTestSearcher(t)
	live := demoLive()
	s := New(store, emb, nil, live, Options{})

	resp, err := s.Search(context.Background(), Request{
		Query:    "luxury",
		Strategy: strategy.Strategy{Mode: strategy.ModeFTS},
		Pool:     10,
	})
	require.NoError(t, err)

	ids := candidateIDs(resp.Candidates)
	assert.Contains(t, ids, "luxury_auto_intenders")
	assert.Contains(t, ids, "demo_luxury_shoppers")
	assert.NotContains(t, ids, "broken_seg", "failed platforms contribute nothing")
	assert.Len(t, resp.Platforms, 2)
	assert.Equal(t, types.FailureTimeout, resp.Platforms["broken"].Failure)

	for _, c := range resp.Candidates {
		if c.Segment.ID == "demo_luxury_shoppers" {
			require.NotNil(t, c.FloorScore)
			assert.Nil(t, c.FTSScore)
			assert.InDelta(t, *c.FloorScore, c.MergedScore, 1e-9)
		}
	}
}

func TestSearchReusesLiveResults(t *testing.T) {
	store, emb := setupTestSearcher(t)
	live := demoLive()
	s := New(store, emb, nil, live, Options{})

	prior := map[string]types.AdapterResult{
		"demo": {Platform: "demo", Segments: []types.Segment{{ID: "prior_seg", Name: "Prior", Platform: "demo"}}},
	}
	resp, err := s.Search(context.Background(), Request{
		Query:    "luxury",
		Strategy: strategy.Strategy{Mode: strategy.ModeFTS},
		Pool:     10,
		Live:     prior,
	})
	require.NoError(t, err)

	assert.Zero(t, live.calls.Load())
	assert.Contains(t, candidateIDs(resp.Candidates), "prior_seg")
	assert.Equal(t, prior, resp.Platforms)
}

func TestSearchCache(t *testing.T) {
	store, emb := setupTestSearcher(t)
	live := demoLive()
	s := New(store, emb, nil, live, Options{})
	ctx := context.Background()
	req := Request{Query: "luxury", Strategy: strategy.Strategy{Mode: strategy.ModeHybrid}, Pool: 10}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, candidateIDs(first.Candidates), candidateIDs(second.Candidates))
	assert.EqualValues(t, 2, live.calls.Load(), "live results are not cached here")

	req.Pool = 20
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit, "pool is part of the key")

	s.InvalidateCache()
	req.Pool = 10
	fourth, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)
}

func TestSearchCacheExpires(t *testing.T) {
	store, emb := setupTestSearcher(t)
	s := New(store, emb, nil, nil, Options{CacheTTL: 20 * time.Millisecond})
	ctx := context.Background()
	req := Request{Query: "luxury", Strategy: strategy.Strategy{Mode: strategy.ModeFTS}, Pool: 10}

	_, err := s.Search(ctx, req)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		resp, err := s.Search(ctx, req)
		return err == nil && !resp.CacheHit
	}, time.Second, 10*time.Millisecond)
}

func TestSearchExpansion(t *testing.T) {
	store, emb := setupTestSearcher(t)
	ctx := context.Background()
	rag := strategy.Strategy{Mode: strategy.ModeRAG, Expand: true}

	t.Run("expanded terms", func(t *testing.T) {
		s := New(store, emb, embedder.NewLocalExpander(nil, 5), nil, Options{})
		resp, err := s.Search(ctx, Request{Query: "sports", Strategy: rag, Pool: 10})
		require.NoError(t, err)

		assert.False(t, resp.ExpansionFailed)
		require.Greater(t, len(resp.Terms), 1)
		assert.Equal(t, "sports", resp.Terms[0])
		assert.Equal(t, "sports_enthusiasts_public", resp.Candidates[0].Segment.ID)
	})

	tests := []struct {
		name         string
		expander     embedder.Expander
		fallback     string
		wantTextHits int
	}{
		{"failure keeps planned mode", failingExpander{}, FallbackOriginal, 0},
		{"failure falls back to keyword", failingExpander{}, FallbackKeyword, 1},
		{"timeout", slowExpander{}, FallbackOriginal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(store, emb, tt.expander, nil, Options{
				ExpansionTimeout:  20 * time.Millisecond,
				ExpansionFallback: tt.fallback,
			})
			req := Request{Query: "luxury", Strategy: rag, Pool: 10}

			resp, err := s.Search(ctx, req)
			require.NoError(t, err)
			assert.True(t, resp.ExpansionFailed)
			assert.Equal(t, []string{"luxury"}, resp.Terms)
			assert.Equal(t, tt.wantTextHits, resp.TextHits)
			assert.Equal(t, 3, resp.VectorHits, "similarity search still runs on the original query")

			again, err := s.Search(ctx, req)
			require.NoError(t, err)
			assert.False(t, again.CacheHit, "degraded results are not cached")
		})
	}
}

func TestSearchSaturation(t *testing.T) {
	store, emb := setupTestSearcher(t)
	s := New(store, emb, nil, nil, Options{})
	ctx := context.Background()
	rag := strategy.Strategy{Mode: strategy.ModeRAG}

	small, err := s.Search(ctx, Request{Query: "travel", Strategy: rag, Pool: 2})
	require.NoError(t, err)
	assert.True(t, small.CatalogSaturated)
	assert.Len(t, small.Candidates, 2)

	large, err := s.Search(ctx, Request{Query: "travel", Strategy: rag, Pool: 10})
	require.NoError(t, err)
	assert.False(t, large.CatalogSaturated)
	assert.Len(t, large.Candidates, 3)
}

func TestSearchPathFailures(t *testing.T) {
	store, emb := setupTestSearcher(t)
	broken := brokenFTSStore{CatalogStore: store}
	ctx := context.Background()

	s := New(broken, emb, nil, nil, Options{})

	resp, err := s.Search(ctx, Request{Query: "luxury", Strategy: strategy.Strategy{Mode: strategy.ModeHybrid}, Pool: 10})
	require.NoError(t, err, "similarity path still answers")
	assert.Zero(t, resp.TextHits)
	assert.Equal(t, 3, resp.VectorHits)
	assert.True(t, resp.Degraded)
	assert.False(t, resp.CatalogFailed)
}

func TestSearchCatalogUnavailableKeepsLiveResults(t *testing.T) {
	store, emb := setupTestSearcher(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		store storage.CatalogStore
		emb   embedder.Embedder
		mode  strategy.Mode
	}{
		{"keyword index down", brokenFTSStore{CatalogStore: store}, emb, strategy.ModeFTS},
		{"embedding service down", store, failingEmbedder{Embedder: emb}, strategy.ModeRAG},
		{"no embedder", store, nil, strategy.ModeRAG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := demoLive()
			s := New(tt.store, tt.emb, nil, live, Options{})
			req := Request{Query: "luxury", Strategy: strategy.Strategy{Mode: tt.mode}, Pool: 10}

			resp, err := s.Search(ctx, req)
			require.NoError(t, err)
			assert.True(t, resp.CatalogFailed)
			assert.True(t, resp.Degraded)
			assert.Zero(t, resp.TextHits)
			assert.Zero(t, resp.VectorHits)
			assert.Equal(t, []string{"demo_luxury_shoppers"}, candidateIDs(resp.Candidates))
			require.NotNil(t, resp.Candidates[0].FloorScore)

			again, err := s.Search(ctx, req)
			require.NoError(t, err)
			assert.False(t, again.CacheHit, "failed catalog searches are not cached")
			assert.Equal(t, int32(2), live.calls.Load())
		})
	}
}

func TestSearchDeadlineKeepsLiveResults(t *testing.T) {
	store, emb := setupTestSearcher(t)
	s := New(store, blockingEmbedder{Embedder: emb}, nil, demoLive(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := s.Search(ctx, Request{Query: "luxury", Strategy: strategy.Strategy{Mode: strategy.ModeRAG}, Pool: 10})
	require.NoError(t, err)
	assert.True(t, resp.CatalogFailed)
	assert.Contains(t, candidateIDs(resp.Candidates), "demo_luxury_shoppers")
}

func TestComputeQueryHash(t *testing.T) {
	base := Request{Query: "luxury", Strategy: strategy.Strategy{Mode: strategy.ModeRAG, Expand: true}, Pool: 30}

	same := base
	same.Query = "  luxury "
	same.Principal = types.Principal{ID: "acme"}
	assert.Equal(t, computeQueryHash(base), computeQueryHash(same))

	for _, mutate := range []func(*Request){
		func(r *Request) { r.Query = "luxury cars" },
		func(r *Request) { r.Strategy.Mode = strategy.ModeHybrid },
		func(r *Request) { r.Strategy.Expand = false },
		func(r *Request) { r.Pool = 60 },
	} {
		other := base
		mutate(&other)
		assert.NotEqual(t, computeQueryHash(base), computeQueryHash(other))
	}
}
