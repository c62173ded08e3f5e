package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

func catalog(segs ...types.Segment) map[string]types.Segment {
	m := make(map[string]types.Segment, len(segs))
	for _, s := range segs {
		s.Normalize()
		m[s.ID] = s
	}
	return m
}

func byID(cs []types.ScoredCandidate) map[string]types.ScoredCandidate {
	m := make(map[string]types.ScoredCandidate, len(cs))
	for _, c := range cs {
		m[c.Segment.ID] = c
	}
	return m
}

func TestNormalizeFTS(t *testing.T) {
	tests := []struct {
		name string
		hits []Hit
		want map[string]float64
	}{
		{"empty", nil, map[string]float64{}},
		{"rank based", []Hit{{"a", 9}, {"b", 5}, {"c", 1}, {"d", 0.5}},
			map[string]float64{"a": 1, "b": 0.75, "c": 0.5, "d": 0.25}},
		{"ties share better value", []Hit{{"a", 9}, {"b", 5}, {"c", 5}, {"d", 1}},
			map[string]float64{"a": 1, "b": 0.75, "c": 0.75, "d": 0.25}},
		{"duplicate id keeps first", []Hit{{"a", 9}, {"a", 2}},
			map[string]float64{"a": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFTS(tt.hits))
		})
	}
}

func TestMergeRenormalizesPresentComponents(t *testing.T) {
	r := New(DefaultWeights, DefaultLiveFloorScale)
	out := r.Merge(Input{
		Query: "luxury auto",
		FTS:   []Hit{{"both", 10}, {"fts_only", 5}},
		Vector: []Hit{
			{"both", 0.8},
			{"vec_only", 0.6},
			{"negative", -0.4},
		},
		Catalog: catalog(
			types.Segment{ID: "both", Name: "Both"},
			types.Segment{ID: "fts_only", Name: "FTS"},
			types.Segment{ID: "vec_only", Name: "Vector"},
			types.Segment{ID: "negative", Name: "Negative"},
		),
	})
	require.Len(t, out, 4)
	got := byID(out)

	// 0.3*1 + 0.7*0.8
	assert.InDelta(t, 0.86, got["both"].MergedScore, 1e-9)
	// Missing vector is excluded, not counted as zero
	assert.InDelta(t, 0.5, got["fts_only"].MergedScore, 1e-9)
	assert.Nil(t, got["fts_only"].VectorScore)
	assert.InDelta(t, 0.6, got["vec_only"].MergedScore, 1e-9)
	assert.Nil(t, got["vec_only"].FTSScore)
	assert.InDelta(t, 0, got["negative"].MergedScore, 1e-9, "cosine clamped to zero")

	assert.Equal(t, "both", out[0].Segment.ID)
	assert.Equal(t, "vec_only", out[1].Segment.ID)
	assert.Equal(t, "fts_only", out[2].Segment.ID)
}

func TestMergeDropsUnresolvedHits(t *testing.T) {
	r := New(DefaultWeights, DefaultLiveFloorScale)
	out := r.Merge(Input{
		FTS:     []Hit{{"deleted", 3}},
		Catalog: catalog(),
	})
	assert.Empty(t, out)
}

func TestMergeZeroWeightFallsBackToMean(t *testing.T) {
	r := New(Weights{FTS: 0, Vector: 1}, DefaultLiveFloorScale)
	out := r.Merge(Input{
		FTS:     []Hit{{"a", 3}},
		Catalog: catalog(types.Segment{ID: "a", Name: "A"}),
	})
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].MergedScore, 1e-9)
}

func TestMergeLiveSegments(t *testing.T) {
	r := New(DefaultWeights, 0.5)
	live := []types.Segment{
		{ID: "cat_dup", Name: "Live copy", Provider: "LiveRamp", Source: types.SourcePlatformLive},
		{ID: "liveramp_acct_1", Name: "Luxury Auto Intenders", Provider: "LiveRamp (Experian)", Source: types.SourcePlatformLive},
		{ID: "liveramp_acct_2", Name: "Pet Owners", Description: "dog and cat households", Source: types.SourcePlatformLive},
		{ID: "liveramp_acct_1", Name: "Duplicate live id", Source: types.SourcePlatformLive},
	}
	out := r.Merge(Input{
		Query:   "luxury auto intenders",
		Vector:  []Hit{{"cat_dup", 0.9}},
		Catalog: catalog(types.Segment{ID: "cat_dup", Name: "Catalog copy", Provider: "Acme"}),
		Live:    live,
	})
	require.Len(t, out, 3)
	got := byID(out)

	assert.Equal(t, "Catalog copy", got["cat_dup"].Segment.Name, "catalog candidate wins")
	assert.Nil(t, got["cat_dup"].FloorScore)

	exact := got["liveramp_acct_1"]
	require.NotNil(t, exact.FloorScore)
	assert.Equal(t, "Luxury Auto Intenders", exact.Segment.Name)
	assert.InDelta(t, 0.5, exact.MergedScore, 1e-9, "full match scaled by floor")
	assert.Nil(t, exact.FTSScore)
	assert.Nil(t, exact.VectorScore)

	unrelated := got["liveramp_acct_2"]
	assert.Less(t, unrelated.MergedScore, exact.MergedScore)
	assert.LessOrEqual(t, unrelated.MergedScore, 0.5)
}

func TestLexicalSimilarity(t *testing.T) {
	seg := types.Segment{Name: "Sports Enthusiasts", Description: "Fans of live sports"}
	assert.InDelta(t, 1.0, LexicalSimilarity("sports enthusiasts", seg), 1e-9)
	assert.InDelta(t, 1.0, LexicalSimilarity("live sports", seg), 1e-9)
	assert.InDelta(t, 0.0, LexicalSimilarity("", seg), 1e-9)
	assert.Less(t, LexicalSimilarity("mortgage refinance", seg), 0.5)
}

func TestSortDeterministic(t *testing.T) {
	mk := func(id, provider string, score float64) types.ScoredCandidate {
		return types.ScoredCandidate{Segment: types.Segment{ID: id, Provider: provider}, MergedScore: score}
	}
	a := []types.ScoredCandidate{
		mk("z", "B", 0.5), mk("b", "A", 0.5), mk("a", "A", 0.5), mk("top", "Z", 0.9),
	}
	b := []types.ScoredCandidate{a[3], a[1], a[0], a[2]}

	Sort(a)
	Sort(b)
	assert.Equal(t, a, b)

	ids := make([]string, len(a))
	for i, c := range a {
		ids[i] = c.Segment.ID
	}
	assert.Equal(t, []string{"top", "a", "b", "z"}, ids)
}

func TestMergeIsDeterministic(t *testing.T) {
	r := New(DefaultWeights, DefaultLiveFloorScale)
	in := Input{
		Query:  "sports",
		FTS:    []Hit{{"a", 2}, {"b", 2}, {"c", 1}},
		Vector: []Hit{{"c", 0.5}, {"d", 0.5}},
		Catalog: catalog(
			types.Segment{ID: "a", Name: "A", Provider: "P"},
			types.Segment{ID: "b", Name: "B", Provider: "P"},
			types.Segment{ID: "c", Name: "C", Provider: "P"},
			types.Segment{ID: "d", Name: "D", Provider: "P"},
		),
	}
	first := r.Merge(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Merge(in))
	}
}
