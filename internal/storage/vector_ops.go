package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// SearchVector ranks stored segment embeddings by cosine similarity to queryVector.
// Vectors of a different dimension are skipped.
func (s *SQLiteStorage) SearchVector(ctx context.Context, queryVector []float32, limit int) ([]VectorResult, error) {
	if len(queryVector) == 0 {
		return []VectorResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.segment_id, e.vector
		FROM segment_embeddings e
		INNER JOIN segments s ON s.id = e.segment_id
		WHERE e.dimension = ?
	`, len(queryVector))
	if err != nil {
		return nil, eris.Wrap(err, "storage: query embeddings")
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector)
	if err != nil {
		return nil, eris.Wrap(err, "storage: score embeddings")
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), nil
}

// SearchFTS runs a keyword query against the segment FTS5 index. Queries that
// reduce to nothing after sanitizing return no results.
func (s *SQLiteStorage) SearchFTS(ctx context.Context, query string, limit int) ([]TextResult, error) {
	match := BuildFTSQuery(query)
	if match == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	// Column weights: id, name, description, provider, categories
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, bm25(segments_fts, 1.0, 5.0, 2.0, 1.0, 1.5) AS score
		FROM segments_fts
		INNER JOIN segments s ON s.rowid = segments_fts.rowid
		WHERE segments_fts MATCH ?
		ORDER BY score, s.id
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: fts search %q", match)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var r TextResult
		var bm25 float64
		if err := rows.Scan(&r.SegmentID, &bm25); err != nil {
			return nil, err
		}
		// bm25() is negative with lower being better
		r.Score = -bm25
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpsertEmbedding stores or replaces the vector for a segment
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	if embedding.SegmentID == "" || len(embedding.Vector) == 0 {
		return eris.New("storage: embedding requires segment id and vector")
	}
	dimension := embedding.Dimension
	if dimension == 0 {
		dimension = len(embedding.Vector)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_embeddings (segment_id, vector, dimension, provider, model, content_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			content_hash = excluded.content_hash,
			created_at = CURRENT_TIMESTAMP
	`, embedding.SegmentID, serializeVector(embedding.Vector), dimension,
		embedding.Provider, embedding.Model, embedding.ContentHash)
	if err != nil {
		return eris.Wrapf(err, "storage: upsert embedding %q", embedding.SegmentID)
	}
	return nil
}

// GetEmbedding retrieves the stored vector for a segment
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, segmentID string) (*Embedding, error) {
	var e Embedding
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT segment_id, vector, dimension, provider, model, content_hash
		FROM segment_embeddings WHERE segment_id = ?
	`, segmentID).Scan(&e.SegmentID, &blob, &e.Dimension, &e.Provider, &e.Model, &e.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get embedding %q", segmentID)
	}
	e.Vector = deserializeVector(blob)
	return &e, nil
}

// ListEmbeddingHashes maps segment id to the content hash of its stored embedding
func (s *SQLiteStorage) ListEmbeddingHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT segment_id, content_hash FROM segment_embeddings`)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list embedding hashes")
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// Helper functions

// candidate represents a segment with its similarity score
type candidate struct {
	segmentID string
	score     float64
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var segmentID string
		var vectorBlob []byte
		if err := rows.Scan(&segmentID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue
		}

		candidates = append(candidates, candidate{
			segmentID: segmentID,
			score:     cosineSimilarity(queryVector, vector),
		})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates the top-limit VectorResult slice from sorted candidates
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{
			SegmentID:       candidates[i].segmentID,
			SimilarityScore: candidates[i].score,
		}
	}
	return results
}

// sortCandidates orders by score descending, then id for stable output
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].segmentID < candidates[j].segmentID
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
