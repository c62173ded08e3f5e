package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adcontextprotocol/signals-agent/internal/embedder"
	"github.com/adcontextprotocol/signals-agent/internal/ranker"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
	"github.com/adcontextprotocol/signals-agent/internal/strategy"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Defaults for Options
const (
	DefaultCacheTTL         = 5 * time.Minute
	DefaultCacheSize        = 100
	DefaultExpansionTimeout = 2 * time.Second
	DefaultPool             = 30
)

// Expansion fallbacks
const (
	FallbackOriginal = "original" // keep the planned mode with the original query
	FallbackKeyword  = "keyword"  // additionally run keyword search
)

// LiveSource fetches segments from external platforms
type LiveSource interface {
	Fetch(ctx context.Context, principal types.Principal, platforms []string) map[string]types.AdapterResult
}

// Request contains parameters for one search
type Request struct {
	Query     string
	Strategy  strategy.Strategy
	Pool      int // Number of catalog hits requested from each path
	Principal types.Principal
	Platforms []string // Restricts live fetch; empty means every platform

	// Live holds results of an earlier fetch. When non-nil the live fetch is
	// skipped and these are merged instead.
	Live map[string]types.AdapterResult
}

// Response contains merged candidates and search metadata
type Response struct {
	Candidates []types.ScoredCandidate
	Platforms  map[string]types.AdapterResult
	Terms      []string // Query terms used for similarity search

	ExpansionFailed bool
	// CatalogFailed is set when every catalog path that ran failed; the
	// candidates then come from live platforms only
	CatalogFailed bool
	// Degraded is set when any catalog path failed or a hit could not be resolved
	Degraded bool
	// CatalogSaturated is set when a catalog path filled the pool, so a
	// larger pool could return more hits
	CatalogSaturated bool

	CacheHit   bool
	TextHits   int
	VectorHits int
	Duration   time.Duration
}

// Options tunes a Searcher. Zero values select the defaults.
type Options struct {
	Weights           ranker.Weights
	LiveFloorScale    float64
	ExpansionTimeout  time.Duration
	ExpansionFallback string
	CacheTTL          time.Duration
	CacheSize         int
}

// catalogResult is the cacheable catalog side of a search. It is never
// modified after it is built.
type catalogResult struct {
	fts       []ranker.Hit
	vector    []ranker.Hit
	segments  map[string]types.Segment
	terms     []string
	saturated bool

	expansionFailed bool
	failed          bool // every catalog path failed
	partial         bool // a catalog path failed or a hit could not be resolved
	degraded        bool // partial or expansion failed, so the result is not cached
}

// Searcher runs keyword, similarity and live lookups for one query and
// merges them
type Searcher struct {
	store    storage.CatalogStore
	embedder embedder.Embedder
	expander embedder.Expander
	live     LiveSource
	ranker   *ranker.Ranker
	opts     Options
	cache    *expirable.LRU[[32]byte, *catalogResult]
}

// New creates a Searcher. expander and live may be nil.
func New(store storage.CatalogStore, emb embedder.Embedder, exp embedder.Expander, live LiveSource, opts Options) *Searcher {
	if opts.Weights == (ranker.Weights{}) {
		opts.Weights = ranker.DefaultWeights
	}
	if opts.LiveFloorScale <= 0 {
		opts.LiveFloorScale = ranker.DefaultLiveFloorScale
	}
	if opts.ExpansionTimeout <= 0 {
		opts.ExpansionTimeout = DefaultExpansionTimeout
	}
	if opts.ExpansionFallback == "" {
		opts.ExpansionFallback = FallbackOriginal
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		expander: exp,
		live:     live,
		ranker:   ranker.New(opts.Weights, opts.LiveFloorScale),
		opts:     opts,
		cache:    expirable.NewLRU[[32]byte, *catalogResult](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// Search performs a search based on the request parameters. Failures of any
// path, including every catalog path, are logged and leave that path empty;
// the response is flagged as degraded and live results are still merged.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if s.store == nil {
		return nil, eris.New("searcher: catalog store not initialized")
	}
	if strings.TrimSpace(req.Query) == "" {
		return &Response{Platforms: map[string]types.AdapterResult{}, Duration: time.Since(startTime)}, nil
	}
	if req.Pool <= 0 {
		req.Pool = DefaultPool
	}

	var (
		g      errgroup.Group
		cat    *catalogResult
		cached bool
		live   = req.Live
	)
	g.Go(func() error {
		cat, cached = s.searchCatalog(ctx, req)
		return nil
	})
	if live == nil {
		g.Go(func() error {
			live = s.fetchLive(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	candidates := s.ranker.Merge(ranker.Input{
		Query:   req.Query,
		FTS:     cat.fts,
		Vector:  cat.vector,
		Catalog: cat.segments,
		Live:    liveSegments(live),
	})

	return &Response{
		Candidates:       candidates,
		Platforms:        live,
		Terms:            append([]string(nil), cat.terms...),
		ExpansionFailed:  cat.expansionFailed,
		CatalogFailed:    cat.failed,
		Degraded:         cat.partial,
		CatalogSaturated: cat.saturated,
		CacheHit:         cached,
		TextHits:         len(cat.fts),
		VectorHits:       len(cat.vector),
		Duration:         time.Since(startTime),
	}, nil
}

func (s *Searcher) fetchLive(ctx context.Context, req Request) map[string]types.AdapterResult {
	if s.live == nil {
		return map[string]types.AdapterResult{}
	}
	res := s.live.Fetch(ctx, req.Principal, req.Platforms)
	if res == nil {
		res = map[string]types.AdapterResult{}
	}
	return res
}

// liveSegments flattens successful platform results in platform name order
func liveSegments(results map[string]types.AdapterResult) []types.Segment {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []types.Segment
	for _, name := range names {
		r := results[name]
		if r.Failed() {
			continue
		}
		out = append(out, r.Segments...)
	}
	return out
}

// searchCatalog runs the keyword and similarity paths, consulting the cache first
func (s *Searcher) searchCatalog(ctx context.Context, req Request) (*catalogResult, bool) {
	key := computeQueryHash(req)
	if res, ok := s.cache.Get(key); ok {
		return res, true
	}

	mode := req.Strategy.Mode
	res := &catalogResult{terms: []string{strings.TrimSpace(req.Query)}}

	var (
		g                 errgroup.Group
		textHits, vecHits []ranker.Hit
		fallback          []ranker.Hit
		textSat, vecSat   bool
		fbSat, ranFB      bool
		textErr, vecErr   error
		fbErr             error
	)
	ranText := mode.UsesFTS()
	ranVec := mode.UsesVector()

	if ranText {
		g.Go(func() error {
			textHits, textSat, textErr = s.textSearch(ctx, req.Query, req.Pool)
			return nil
		})
	}

	if ranVec || req.Strategy.Expand {
		g.Go(func() error {
			if req.Strategy.Expand {
				terms, err := s.expand(ctx, req.Query)
				if err != nil {
					res.expansionFailed = true
					if s.opts.ExpansionFallback == FallbackKeyword && !ranText {
						ranFB = true
						fallback, fbSat, fbErr = s.textSearch(ctx, req.Query, req.Pool)
					}
				} else {
					res.terms = terms
				}
			}
			if ranVec {
				vecHits, vecSat, vecErr = s.vectorSearch(ctx, res.terms, req.Pool)
			}
			return nil
		})
	}
	_ = g.Wait()

	attempted, failed := 0, 0
	for _, p := range []struct {
		ran bool
		err error
	}{{ranText, textErr}, {ranVec, vecErr}, {ranFB, fbErr}} {
		if !p.ran {
			continue
		}
		attempted++
		if p.err != nil {
			failed++
		}
	}
	if attempted > 0 && failed == attempted {
		res.failed = true
		zap.L().Warn("searcher: every catalog search failed, returning live results only",
			zap.String("query", req.Query),
			zap.Error(errors.Join(textErr, vecErr, fbErr)),
		)
	}

	if ranFB {
		textHits, textSat = fallback, fbSat
	}
	res.fts = textHits
	res.vector = vecHits
	res.saturated = textSat || vecSat
	res.degraded = failed > 0 || res.expansionFailed

	segments, complete := s.resolve(ctx, res.fts, res.vector)
	res.segments = segments
	res.partial = failed > 0 || !complete
	res.degraded = res.degraded || res.partial

	if !res.degraded {
		s.cache.Add(key, res)
	}
	return res, false
}

// expand runs the expander under its own deadline
func (s *Searcher) expand(ctx context.Context, query string) ([]string, error) {
	if s.expander == nil {
		return []string{strings.TrimSpace(query)}, nil
	}
	expCtx, cancel := context.WithTimeout(ctx, s.opts.ExpansionTimeout)
	defer cancel()

	terms, err := s.expander.Expand(expCtx, query)
	if err == nil && len(terms) == 0 {
		err = eris.New("no terms returned")
	}
	if err != nil {
		zap.L().Warn("searcher: query expansion failed, using original query",
			zap.String("query", query),
			zap.Duration("timeout", s.opts.ExpansionTimeout),
			zap.Error(err),
		)
		return nil, eris.Wrapf(types.ErrExpansionFailed, "searcher: expand %q: %v", query, err)
	}
	return terms, nil
}

func (s *Searcher) textSearch(ctx context.Context, query string, pool int) ([]ranker.Hit, bool, error) {
	results, err := s.store.SearchFTS(ctx, query, pool)
	if err != nil {
		zap.L().Warn("searcher: keyword search failed", zap.String("query", query), zap.Error(err))
		return nil, false, err
	}
	hits := make([]ranker.Hit, len(results))
	for i, r := range results {
		hits[i] = ranker.Hit{SegmentID: r.SegmentID, Score: r.Score}
	}
	return hits, len(results) >= pool, nil
}

// vectorSearch embeds every term in one batch and keeps the best similarity
// per segment
func (s *Searcher) vectorSearch(ctx context.Context, terms []string, pool int) ([]ranker.Hit, bool, error) {
	if s.embedder == nil {
		return nil, false, eris.New("searcher: embedder not initialized")
	}
	embeddings, err := s.embedder.GenerateBatch(ctx, terms)
	if err != nil {
		zap.L().Warn("searcher: query embedding failed, skipping similarity search",
			zap.Strings("terms", terms),
			zap.Error(err),
		)
		return nil, false, eris.Wrap(err, "searcher: embed query terms")
	}

	best := make(map[string]float64)
	saturated := false
	for i, emb := range embeddings {
		if emb == nil {
			continue
		}
		results, err := s.store.SearchVector(ctx, emb.Vector, pool)
		if err != nil {
			zap.L().Warn("searcher: similarity search failed", zap.String("term", terms[i]), zap.Error(err))
			return nil, false, err
		}
		if len(results) >= pool {
			saturated = true
		}
		for _, r := range results {
			if cur, ok := best[r.SegmentID]; !ok || r.SimilarityScore > cur {
				best[r.SegmentID] = r.SimilarityScore
			}
		}
	}

	hits := make([]ranker.Hit, 0, len(best))
	for id, score := range best {
		hits = append(hits, ranker.Hit{SegmentID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SegmentID < hits[j].SegmentID
	})
	return hits, saturated, nil
}

// resolve loads the segments behind every hit. Hits whose segment has been
// deleted since indexing are skipped. Lookup failures drop the hit and report
// the result as incomplete.
func (s *Searcher) resolve(ctx context.Context, fts, vector []ranker.Hit) (map[string]types.Segment, bool) {
	out := make(map[string]types.Segment, len(fts)+len(vector))
	complete := true
	for _, hits := range [][]ranker.Hit{fts, vector} {
		for _, h := range hits {
			if _, ok := out[h.SegmentID]; ok {
				continue
			}
			seg, err := s.store.GetSegment(ctx, h.SegmentID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				zap.L().Warn("searcher: resolve segment failed", zap.String("segment_id", h.SegmentID), zap.Error(err))
				complete = false
				if ctx.Err() != nil {
					return out, false
				}
				continue
			}
			out[h.SegmentID] = *seg
		}
	}
	return out, complete
}

// InvalidateCache drops every cached catalog result. Call it after the catalog changes.
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// computeQueryHash keys the catalog cache
func computeQueryHash(req Request) [32]byte {
	var data strings.Builder
	data.WriteString(strings.TrimSpace(req.Query))
	data.WriteString("|")
	data.WriteString(string(req.Strategy.Mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%t", req.Strategy.Expand))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.Pool))
	return sha256.Sum256([]byte(data.String()))
}
