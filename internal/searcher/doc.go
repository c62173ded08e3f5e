// Package searcher runs one discovery query against the local catalog and the
// live platforms and merges the hits into ranked candidates.
//
// The keyword path, the similarity path (optionally over an expanded set of
// query terms) and the live platform fetch run concurrently:
//
//	s := searcher.New(store, emb, expander, manager, searcher.Options{})
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:     "luxury car buyers",
//	    Strategy:  selector.Classify("luxury car buyers"),
//	    Pool:      30,
//	    Principal: principal,
//	})
//
// A failing path degrades to empty and is reported in the response
// (ExpansionFailed, per-platform AdapterResults). Catalog hits are cached for
// a few minutes per (query, mode, expand, pool); live results are cached by
// the platform manager instead.
package searcher
