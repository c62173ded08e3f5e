package indexer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// CatalogFile is the YAML seed format for the segment catalog
type CatalogFile struct {
	Segments          []types.Segment   `yaml:"segments"`
	NegotiatedPricing []NegotiatedPrice `yaml:"negotiated_pricing"`
}

// NegotiatedPrice is a principal-specific CPM for one segment
type NegotiatedPrice struct {
	PrincipalID string  `yaml:"principal_id"`
	SegmentID   string  `yaml:"segment_id"`
	CPM         float64 `yaml:"cpm"`
}

// ImportStats reports the outcome of ImportCatalog
type ImportStats struct {
	Segments         int           `json:"segments"`
	NegotiatedPrices int           `json:"negotiated_prices"`
	Duration         time.Duration `json:"duration"`
}

// ParseCatalog decodes a catalog seed. Unknown keys are errors.
func ParseCatalog(data []byte) (*CatalogFile, error) {
	var cf CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "indexer: decode catalog")
	}

	seen := make(map[string]bool, len(cf.Segments))
	for i := range cf.Segments {
		seg := &cf.Segments[i]
		seg.Normalize()
		if err := seg.Validate(); err != nil {
			return nil, eris.Wrapf(err, "indexer: segment %d (%q)", i, seg.ID)
		}
		if seen[seg.ID] {
			return nil, eris.Errorf("indexer: duplicate segment id %q", seg.ID)
		}
		seen[seg.ID] = true
	}
	for i, p := range cf.NegotiatedPricing {
		if p.PrincipalID == "" || p.SegmentID == "" {
			return nil, eris.Errorf("indexer: negotiated price %d needs principal_id and segment_id", i)
		}
		if p.CPM < 0 {
			return nil, eris.Wrapf(types.ErrInvalidCPM, "indexer: negotiated price %d", i)
		}
	}
	return &cf, nil
}

// ImportCatalog loads a YAML catalog seed from path and upserts its segments
// and negotiated prices in one transaction. Embeddings are left to
// EmbedCatalog.
func (idx *Indexer) ImportCatalog(ctx context.Context, path string) (*ImportStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "indexer: read catalog %s", path)
	}
	cf, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return idx.Import(ctx, cf)
}

// Import upserts a parsed catalog in one transaction
func (idx *Indexer) Import(ctx context.Context, cf *CatalogFile) (*ImportStats, error) {
	start := time.Now()

	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "indexer: begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for i := range cf.Segments {
		if err := tx.UpsertSegment(ctx, &cf.Segments[i]); err != nil {
			return nil, eris.Wrapf(err, "indexer: upsert segment %s", cf.Segments[i].ID)
		}
	}
	for _, p := range cf.NegotiatedPricing {
		if err := tx.SetNegotiatedCPM(ctx, p.PrincipalID, p.SegmentID, p.CPM); err != nil {
			return nil, eris.Wrapf(err, "indexer: negotiated price %s/%s", p.PrincipalID, p.SegmentID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "indexer: commit catalog")
	}

	stats := &ImportStats{
		Segments:         len(cf.Segments),
		NegotiatedPrices: len(cf.NegotiatedPricing),
		Duration:         time.Since(start),
	}
	zap.L().Info("indexer: catalog imported",
		zap.Int("segments", stats.Segments),
		zap.Int("negotiated_prices", stats.NegotiatedPrices),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}
