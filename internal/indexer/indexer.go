package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adcontextprotocol/signals-agent/internal/embedder"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
)

// Defaults for Config
const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// maxErrorMessages bounds Statistics.ErrorMessages
const maxErrorMessages = 20

// Indexer loads the segment catalog and keeps its embeddings current
type Indexer struct {
	store    storage.CatalogStore
	embedder embedder.Embedder
	lock     IndexLock
	cfg      Config
}

// Config tunes embedding backfill
type Config struct {
	BatchSize int // Segments per embedding call (default: 32)
	Workers   int // Concurrent embedding calls (default: 4)
	Force     bool
}

// Statistics reports the outcome of an EmbedCatalog run
type Statistics struct {
	SegmentsScanned  int           `json:"segments_scanned"`
	SegmentsEmbedded int           `json:"segments_embedded"`
	SegmentsSkipped  int           `json:"segments_skipped"`
	SegmentsFailed   int           `json:"segments_failed"`
	Batches          int           `json:"batches"`
	Duration         time.Duration `json:"duration"`
	ErrorMessages    []string      `json:"errors,omitempty"`
}

// New creates an Indexer. emb may be nil when only ImportCatalog is used.
func New(store storage.CatalogStore, emb embedder.Embedder, cfg Config) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Indexer{store: store, embedder: emb, cfg: cfg}
}

// pending is a segment whose stored vector is missing or stale
type pending struct {
	id   string
	text string
	hash string
}

// EmbedCatalog embeds every segment whose embedding is missing or was built
// from different text. With Config.Force every segment is re-embedded.
// Failed batches are counted and reported, not returned as errors.
func (idx *Indexer) EmbedCatalog(ctx context.Context) (*Statistics, error) {
	if idx.embedder == nil {
		return nil, eris.New("indexer: no embedder configured")
	}
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	stats := &Statistics{}

	todo, err := idx.findStale(ctx, stats)
	if err != nil {
		return nil, err
	}

	var (
		embedded int32
		failed   int32
		mu       sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)

	for i := 0; i < len(todo); i += idx.cfg.BatchSize {
		end := i + idx.cfg.BatchSize
		if end > len(todo) {
			end = len(todo)
		}
		batch := todo[i:end]
		stats.Batches++

		g.Go(func() error {
			n, err := idx.embedBatch(gctx, batch)
			atomic.AddInt32(&embedded, int32(n))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				atomic.AddInt32(&failed, int32(len(batch)-n))
				mu.Lock()
				if len(stats.ErrorMessages) < maxErrorMessages {
					stats.ErrorMessages = append(stats.ErrorMessages, err.Error())
				}
				mu.Unlock()
				zap.L().Warn("indexer: embedding batch failed",
					zap.String("first_segment", batch[0].id),
					zap.Int("size", len(batch)),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "indexer: embed catalog")
	}

	stats.SegmentsEmbedded = int(embedded)
	stats.SegmentsFailed = int(failed)
	stats.Duration = time.Since(start)

	zap.L().Info("indexer: catalog embedded",
		zap.Int("scanned", stats.SegmentsScanned),
		zap.Int("embedded", stats.SegmentsEmbedded),
		zap.Int("skipped", stats.SegmentsSkipped),
		zap.Int("failed", stats.SegmentsFailed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// findStale lists the segments that need a new vector
func (idx *Indexer) findStale(ctx context.Context, stats *Statistics) ([]pending, error) {
	segments, err := idx.store.ListSegments(ctx, storage.ListOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "indexer: list segments")
	}
	hashes, err := idx.store.ListEmbeddingHashes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "indexer: list embedding hashes")
	}

	stats.SegmentsScanned = len(segments)
	todo := make([]pending, 0, len(segments))
	for _, seg := range segments {
		text := embedder.SegmentText(*seg)
		hash := embedder.ComputeHash(text)
		if !idx.cfg.Force && hashes[seg.ID] == hash {
			stats.SegmentsSkipped++
			continue
		}
		todo = append(todo, pending{id: seg.ID, text: text, hash: hash})
	}
	return todo, nil
}

// embedBatch embeds and stores one batch, returning how many were stored
func (idx *Indexer) embedBatch(ctx context.Context, batch []pending) (int, error) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	vectors, err := idx.embedder.GenerateBatch(ctx, texts)
	if err != nil {
		return 0, eris.Wrapf(err, "indexer: embed batch starting at %s", batch[0].id)
	}
	if len(vectors) != len(batch) {
		return 0, eris.Errorf("indexer: expected %d embeddings, got %d", len(batch), len(vectors))
	}

	stored := 0
	for i, p := range batch {
		v := vectors[i]
		err := idx.store.UpsertEmbedding(ctx, &storage.Embedding{
			SegmentID:   p.id,
			Vector:      v.Vector,
			Dimension:   v.Dimension,
			Provider:    v.Provider,
			Model:       v.Model,
			ContentHash: p.hash,
		})
		if err != nil {
			return stored, eris.Wrapf(err, "indexer: store embedding for %s", p.id)
		}
		stored++
	}
	return stored, nil
}
