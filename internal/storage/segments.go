package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

const segmentColumns = `
	id, external_id, name, description, provider, categories, signal_type,
	platform, account_id, catalog_access, coverage_percentage, cpm, revenue_share_percentage
`

// UpsertSegment inserts or updates a segment. Updates keep the row id so the
// FTS index follows through the update trigger.
func (s *SQLiteStorage) UpsertSegment(ctx context.Context, segment *types.Segment) error {
	return upsertSegment(ctx, s.db, segment)
}

func upsertSegment(ctx context.Context, q querier, segment *types.Segment) error {
	segment.Normalize()
	if err := segment.Validate(); err != nil {
		return eris.Wrapf(err, "storage: segment %q", segment.ID)
	}

	categories, err := json.Marshal(segment.Categories)
	if err != nil {
		return eris.Wrap(err, "storage: encode categories")
	}
	if segment.Categories == nil {
		categories = []byte("[]")
	}

	now := time.Now().Unix()
	_, err = q.ExecContext(ctx, `
		INSERT INTO segments (`+segmentColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id,
			name = excluded.name,
			description = excluded.description,
			provider = excluded.provider,
			categories = excluded.categories,
			signal_type = excluded.signal_type,
			platform = excluded.platform,
			account_id = excluded.account_id,
			catalog_access = excluded.catalog_access,
			coverage_percentage = excluded.coverage_percentage,
			cpm = excluded.cpm,
			revenue_share_percentage = excluded.revenue_share_percentage,
			updated_at = excluded.updated_at
	`,
		segment.ID, segment.ExternalID, segment.Name, segment.Description, segment.Provider,
		string(categories), segment.SignalType, segment.Platform, segment.AccountID,
		string(segment.CatalogAccess), nullFloat(segment.Coverage), nullFloat(segment.CPM),
		nullFloat(segment.RevenueShare), now, now)
	if err != nil {
		return eris.Wrapf(err, "storage: upsert segment %q", segment.ID)
	}
	return nil
}

// GetSegment retrieves a segment by id
func (s *SQLiteStorage) GetSegment(ctx context.Context, id string) (*types.Segment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get segment %q", id)
	}
	return seg, nil
}

// ListSegments returns segments ordered by id
func (s *SQLiteStorage) ListSegments(ctx context.Context, opts ListOptions) ([]*types.Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments ORDER BY id`
	var args []interface{}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list segments")
	}
	defer func() { _ = rows.Close() }()

	var segments []*types.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan segment")
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// DeleteSegment removes a segment and, by cascade, its embedding and prices
func (s *SQLiteStorage) DeleteSegment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "storage: delete segment %q", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNegotiatedCPM records a principal-specific price for a segment
func (s *SQLiteStorage) SetNegotiatedCPM(ctx context.Context, principalID, segmentID string, cpm float64) error {
	return setNegotiatedCPM(ctx, s.db, principalID, segmentID, cpm)
}

func setNegotiatedCPM(ctx context.Context, q querier, principalID, segmentID string, cpm float64) error {
	if cpm < 0 {
		return types.ErrInvalidCPM
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO principal_segment_access (principal_id, segment_id, custom_cpm)
		VALUES (?, ?, ?)
		ON CONFLICT(principal_id, segment_id) DO UPDATE SET custom_cpm = excluded.custom_cpm
	`, principalID, segmentID, cpm)
	if err != nil {
		return eris.Wrapf(err, "storage: set negotiated cpm %s/%s", principalID, segmentID)
	}
	return nil
}

// NegotiatedCPMs returns the negotiated prices the principal holds for any of segmentIDs
func (s *SQLiteStorage) NegotiatedCPMs(ctx context.Context, principalID string, segmentIDs []string) (map[string]float64, error) {
	prices := make(map[string]float64)
	if principalID == "" || len(segmentIDs) == 0 {
		return prices, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(segmentIDs)), ",")
	args := make([]interface{}, 0, len(segmentIDs)+1)
	args = append(args, principalID)
	for _, id := range segmentIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id, custom_cpm FROM principal_segment_access
		WHERE principal_id = ? AND custom_cpm IS NOT NULL AND segment_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query negotiated cpm")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var cpm float64
		if err := rows.Scan(&id, &cpm); err != nil {
			return nil, err
		}
		prices[id] = cpm
	}
	return prices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSegment(row rowScanner) (*types.Segment, error) {
	var (
		seg                         types.Segment
		categories, access          string
		coverage, cpm, revenueShare sql.NullFloat64
	)
	err := row.Scan(&seg.ID, &seg.ExternalID, &seg.Name, &seg.Description, &seg.Provider,
		&categories, &seg.SignalType, &seg.Platform, &seg.AccountID, &access,
		&coverage, &cpm, &revenueShare)
	if err != nil {
		return nil, err
	}

	if categories != "" && categories != "[]" {
		if err := json.Unmarshal([]byte(categories), &seg.Categories); err != nil {
			return nil, eris.Wrapf(err, "storage: decode categories for %q", seg.ID)
		}
	}
	seg.CatalogAccess = types.AccessLevel(access)
	seg.Coverage = floatPtr(coverage)
	seg.CPM = floatPtr(cpm)
	seg.RevenueShare = floatPtr(revenueShare)
	seg.Source = types.SourceCatalog
	seg.Normalize()
	return &seg, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
