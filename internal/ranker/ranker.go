// Package ranker merges keyword, similarity and live-platform hits into one
// deterministically ordered candidate list.
package ranker

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Hit is one scored catalog match
type Hit struct {
	SegmentID string
	Score     float64
}

// Weights controls the contribution of each score component
type Weights struct {
	FTS    float64
	Vector float64
}

// DefaultWeights favours semantic similarity
var DefaultWeights = Weights{FTS: 0.3, Vector: 0.7}

// DefaultLiveFloorScale caps live-only scores below strong catalog matches
const DefaultLiveFloorScale = 0.5

// Input is everything one merge needs
type Input struct {
	Query string

	// FTS hits in rank order, best first. Score is the raw engine score and
	// is only used to detect ties.
	FTS []Hit

	// Vector hits carrying cosine similarity
	Vector []Hit

	// Catalog segments by id. Hits without an entry are dropped.
	Catalog map[string]types.Segment

	// Segments fetched live from platforms
	Live []types.Segment
}

// Ranker merges search results. The zero value is not usable; use New.
type Ranker struct {
	weights    Weights
	floorScale float64
}

// New creates a ranker. Negative weights are treated as zero.
func New(weights Weights, liveFloorScale float64) *Ranker {
	if weights.FTS < 0 {
		weights.FTS = 0
	}
	if weights.Vector < 0 {
		weights.Vector = 0
	}
	if liveFloorScale < 0 {
		liveFloorScale = 0
	}
	return &Ranker{weights: weights, floorScale: liveFloorScale}
}

// Merge scores and orders every candidate in in. The result is not truncated.
func (r *Ranker) Merge(in Input) []types.ScoredCandidate {
	ftsScores := NormalizeFTS(in.FTS)
	vecScores := normalizeVector(in.Vector)

	ids := make(map[string]bool, len(ftsScores)+len(vecScores))
	for id := range ftsScores {
		ids[id] = true
	}
	for id := range vecScores {
		ids[id] = true
	}

	out := make([]types.ScoredCandidate, 0, len(ids)+len(in.Live))
	for id := range ids {
		seg, ok := in.Catalog[id]
		if !ok {
			continue
		}
		c := types.ScoredCandidate{Segment: seg.Clone()}
		if s, ok := ftsScores[id]; ok {
			c.FTSScore = types.Float(s)
		}
		if s, ok := vecScores[id]; ok {
			c.VectorScore = types.Float(s)
		}
		c.MergedScore = r.combine(c.FTSScore, c.VectorScore)
		out = append(out, c)
	}

	seen := make(map[string]bool, len(out)+len(in.Live))
	for _, c := range out {
		seen[c.Segment.ID] = true
	}
	for _, seg := range in.Live {
		if seen[seg.ID] {
			continue
		}
		seen[seg.ID] = true
		floor := r.floorScale * LexicalSimilarity(in.Query, seg)
		out = append(out, types.ScoredCandidate{
			Segment:     seg.Clone(),
			FloorScore:  types.Float(floor),
			MergedScore: floor,
		})
	}

	Sort(out)
	return out
}

// combine is the weighted mean over the components that are present. With
// all present weights at zero it falls back to the plain mean.
func (r *Ranker) combine(fts, vec *float64) float64 {
	var sum, weight, plain float64
	var n int
	if fts != nil {
		sum += r.weights.FTS * *fts
		weight += r.weights.FTS
		plain += *fts
		n++
	}
	if vec != nil {
		sum += r.weights.Vector * *vec
		weight += r.weights.Vector
		plain += *vec
		n++
	}
	switch {
	case n == 0:
		return 0
	case weight == 0:
		return plain / float64(n)
	default:
		return sum / weight
	}
}

// NormalizeFTS maps rank-ordered hits to (n-i)/n. Hits tied on raw score share
// the better value. Repeated ids keep their first position.
func NormalizeFTS(hits []Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	n := float64(len(hits))
	var prev float64
	for i, h := range hits {
		score := (n - float64(i)) / n
		if i > 0 && h.Score == hits[i-1].Score {
			score = prev
		}
		prev = score
		if _, dup := out[h.SegmentID]; !dup {
			out[h.SegmentID] = score
		}
	}
	return out
}

func normalizeVector(hits []Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		s := clamp01(h.Score)
		if cur, ok := out[h.SegmentID]; !ok || s > cur {
			out[h.SegmentID] = s
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LexicalSimilarity scores a live segment against the query without any
// catalog signal: the better of the edit-distance similarity to the name and
// the share of query tokens found in the name or description.
func LexicalSimilarity(query string, seg types.Segment) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	edit := levenshtein.Similarity(q, strings.ToLower(seg.Name), nil)

	qTokens := tokenize(q)
	if len(qTokens) == 0 {
		return clamp01(edit)
	}
	text := make(map[string]bool)
	for _, t := range tokenize(strings.ToLower(seg.Name + " " + seg.Description)) {
		text[t] = true
	}
	matched := 0
	for _, t := range qTokens {
		if text[t] {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(qTokens))

	if overlap > edit {
		return clamp01(overlap)
	}
	return clamp01(edit)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Sort orders candidates by merged score descending, then provider and id
// ascending. Equal inputs always produce the same order.
func Sort(cs []types.ScoredCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.MergedScore != b.MergedScore {
			return a.MergedScore > b.MergedScore
		}
		if a.Segment.Provider != b.Segment.Provider {
			return a.Segment.Provider < b.Segment.Provider
		}
		return a.Segment.ID < b.Segment.ID
	})
}
