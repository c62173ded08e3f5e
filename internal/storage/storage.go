package storage

import (
	"context"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// CatalogStore is the local indexed segment store. It answers keyword and
// vector-similarity lookups and owns no business logic.
type CatalogStore interface {
	// Segment operations
	UpsertSegment(ctx context.Context, segment *types.Segment) error
	GetSegment(ctx context.Context, id string) (*types.Segment, error)
	ListSegments(ctx context.Context, opts ListOptions) ([]*types.Segment, error)
	DeleteSegment(ctx context.Context, id string) error

	// Search operations
	SearchFTS(ctx context.Context, query string, limit int) ([]TextResult, error)
	SearchVector(ctx context.Context, queryVector []float32, limit int) ([]VectorResult, error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, segmentID string) (*Embedding, error)
	ListEmbeddingHashes(ctx context.Context) (map[string]string, error)

	// Negotiated pricing
	SetNegotiatedCPM(ctx context.Context, principalID, segmentID string, cpm float64) error
	NegotiatedCPMs(ctx context.Context, principalID string, segmentIDs []string) (map[string]float64, error)

	// Stats returns catalog row counts
	Stats(ctx context.Context) (*CatalogStats, error)

	// Transaction support
	BeginTx(ctx context.Context) (Tx, error)

	// Close releases the database handle
	Close() error
}

// Tx is the subset of write operations available inside a transaction
type Tx interface {
	UpsertSegment(ctx context.Context, segment *types.Segment) error
	SetNegotiatedCPM(ctx context.Context, principalID, segmentID string, cpm float64) error
	Commit() error
	Rollback() error
}

// ListOptions pages through the catalog in id order
type ListOptions struct {
	Limit  int // 0 means no limit
	Offset int
}

// Embedding is a stored segment vector
type Embedding struct {
	SegmentID   string
	Vector      []float32
	Dimension   int
	Provider    string
	Model       string
	ContentHash string // Hash of the text the vector was generated from
}

// TextResult is one keyword hit. Score is the negated BM25 value, so higher is
// better; results are returned in rank order.
type TextResult struct {
	SegmentID string
	Score     float64
}

// VectorResult is one similarity hit, ordered by descending cosine similarity
type VectorResult struct {
	SegmentID       string
	SimilarityScore float64
}

// CatalogStats reports catalog row counts
type CatalogStats struct {
	Segments         int `json:"segments"`
	Embeddings       int `json:"embeddings"`
	NegotiatedPrices int `json:"negotiated_prices"`
}
