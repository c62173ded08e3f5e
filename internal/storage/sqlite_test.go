package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSegments(t *testing.T, store *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	segments := []*types.Segment{
		{
			ID:          "luxury_auto_intenders",
			Name:        "Luxury Automotive Intenders",
			Description: "Consumers researching luxury vehicles in the last 30 days",
			Provider:    "Experian",
			Categories:  []string{"automotive", "intent"},
			Coverage:    types.Float(12.5),
			CPM:         types.Float(6.0),
		},
		{
			ID:            "sports_enthusiasts_public",
			Name:          "Sports Enthusiasts",
			Description:   "Fans of live sports and sports streaming",
			Provider:      "Polk",
			Categories:    []string{"sports"},
			CatalogAccess: types.AccessPublic,
			Coverage:      types.Float(30),
		},
		{
			ID:            "eco_travelers_private",
			Name:          "Eco Conscious Travelers",
			Description:   "Travelers who prefer sustainable travel options",
			Provider:      "Acme Data",
			CatalogAccess: types.AccessPrivate,
		},
	}
	for _, seg := range segments {
		require.NoError(t, store.UpsertSegment(ctx, seg))
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	store := setupTestDB(t)

	v, err := SchemaVersion(context.Background(), store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, store.db))

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(AllMigrations), count)
}

func TestRollbackMigration(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, store.db))
	v, err := SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	var name string
	err = store.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='principal_segment_access'").Scan(&name)
	assert.Error(t, err, "pricing table should be dropped")

	require.NoError(t, ApplyMigrations(ctx, store.db))
	v, err = SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestUpsertAndGetSegment(t *testing.T) {
	store := setupTestDB(t)
	seedSegments(t, store)
	ctx := context.Background()

	seg, err := store.GetSegment(ctx, "luxury_auto_intenders")
	require.NoError(t, err)
	assert.Equal(t, "Luxury Automotive Intenders", seg.Name)
	assert.Equal(t, []string{"automotive", "intent"}, seg.Categories)
	assert.Equal(t, types.AccessPublic, seg.CatalogAccess)
	assert.Equal(t, types.SignalTypeMarketplace, seg.SignalType)
	assert.Equal(t, types.SourceCatalog, seg.Source)
	require.NotNil(t, seg.Coverage)
	assert.InDelta(t, 12.5, *seg.Coverage, 0.0001)
	assert.True(t, seg.HasCoverageData)
	assert.True(t, seg.HasPricingData)

	travel, err := store.GetSegment(ctx, "eco_travelers_private")
	require.NoError(t, err)
	assert.Nil(t, travel.Coverage)
	assert.Nil(t, travel.CPM)
	assert.False(t, travel.HasCoverageData)
	assert.False(t, travel.HasPricingData)
	assert.Nil(t, travel.Categories)

	// Update keeps a single row and refreshes the FTS entry
	seg.Name = "Premium Car Shoppers"
	require.NoError(t, store.UpsertSegment(ctx, seg))

	all, err := store.ListSegments(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hits, err := store.SearchFTS(ctx, "premium", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "luxury_auto_intenders", hits[0].SegmentID)
}

func TestUpsertSegmentValidation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		segment *types.Segment
		wantErr error
	}{
		{"empty id", &types.Segment{Name: "x"}, types.ErrEmptySegmentID},
		{"empty name", &types.Segment{ID: "x"}, types.ErrEmptySegmentName},
		{"bad coverage", &types.Segment{ID: "x", Name: "x", Coverage: types.Float(120)}, types.ErrInvalidCoverage},
		{"negative cpm", &types.Segment{ID: "x", Name: "x", CPM: types.Float(-1)}, types.ErrInvalidCPM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpsertSegment(ctx, tt.segment)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGetSegment_NotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetSegment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSegmentsPaging(t *testing.T) {
	store := setupTestDB(t)
	seedSegments(t, store)
	ctx := context.Background()

	page, err := store.ListSegments(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "eco_travelers_private", page[0].ID)
	assert.Equal(t, "luxury_auto_intenders", page[1].ID)

	page, err = store.ListSegments(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "sports_enthusiasts_public", page[0].ID)
}

func TestDeleteSegmentCascades(t *testing.T) {
	store := setupTestDB(t)
	seedSegments(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpsertEmbedding(ctx, &Embedding{
		SegmentID: "sports_enthusiasts_public", Vector: []float32{1, 0}, Provider: "local", Model: "test",
	}))
	require.NoError(t, store.SetNegotiatedCPM(ctx, "acme_corp", "sports_enthusiasts_public", 2.5))

	require.NoError(t, store.DeleteSegment(ctx, "sports_enthusiasts_public"))
	assert.ErrorIs(t, store.DeleteSegment(ctx, "sports_enthusiasts_public"), ErrNotFound)

	_, err := store.GetEmbedding(ctx, "sports_enthusiasts_public")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Segments)
	assert.Equal(t, 0, stats.Embeddings)
	assert.Equal(t, 0, stats.NegotiatedPrices)

	hits, err := store.SearchFTS(ctx, "sports", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNegotiatedCPMs(t *testing.T) {
	store := setupTestDB(t)
	seedSegments(t, store)
	ctx := context.Background()

	require.NoError(t, store.SetNegotiatedCPM(ctx, "acme_corp", "luxury_auto_intenders", 4.5))
	require.NoError(t, store.SetNegotiatedCPM(ctx, "acme_corp", "luxury_auto_intenders", 4.0))
	require.NoError(t, store.SetNegotiatedCPM(ctx, "other", "sports_enthusiasts_public", 1.0))
	assert.Error(t, store.SetNegotiatedCPM(ctx, "acme_corp", "sports_enthusiasts_public", -2))

	prices, err := store.NegotiatedCPMs(ctx, "acme_corp",
		[]string{"luxury_auto_intenders", "sports_enthusiasts_public"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"luxury_auto_intenders": 4.0}, prices)

	prices, err = store.NegotiatedCPMs(ctx, "", []string{"luxury_auto_intenders"})
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestTransactionRollback(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertSegment(ctx, &types.Segment{ID: "tmp", Name: "Temporary"}))
	require.NoError(t, tx.Rollback())

	_, err = store.GetSegment(ctx, "tmp")
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertSegment(ctx, &types.Segment{ID: "kept", Name: "Kept"}))
	require.NoError(t, tx.SetNegotiatedCPM(ctx, "acme_corp", "kept", 3))
	require.NoError(t, tx.Commit())

	_, err = store.GetSegment(ctx, "kept")
	assert.NoError(t, err)
}
