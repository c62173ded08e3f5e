package embedder

import (
	"context"
	"strings"
)

// DefaultMaxTerms is the number of related terms an expander adds
const DefaultMaxTerms = 5

// Expander rewrites a buyer query into a short list of related search terms.
// The returned list always starts with the original query and holds at most
// one more than the expander's term limit.
type Expander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// withOriginal prepends query to terms, drops blanks and case-insensitive
// duplicates, and keeps at most max related terms.
func withOriginal(query string, terms []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxTerms
	}
	query = strings.TrimSpace(query)
	out := []string{query}
	seen := map[string]bool{strings.ToLower(query): true}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == max+1 {
			break
		}
	}
	return out
}

var defaultSynonyms = map[string][]string{
	"auto":       {"automotive", "car buyers", "vehicle"},
	"car":        {"automotive", "auto intenders", "vehicle"},
	"luxury":     {"premium", "high-end", "affluent"},
	"sports":     {"athletics", "sports fans", "live sports"},
	"travel":     {"travelers", "vacation", "tourism"},
	"fitness":    {"health", "wellness", "gym"},
	"parents":    {"families", "moms", "dads"},
	"tech":       {"technology", "early adopters", "gadgets"},
	"food":       {"dining", "restaurants", "grocery"},
	"finance":    {"banking", "investing", "credit"},
	"eco":        {"sustainable", "green", "environmentally conscious"},
	"gaming":     {"video games", "gamers", "esports"},
	"home":       {"home improvement", "homeowners", "real estate"},
	"fashion":    {"apparel", "style", "clothing"},
	"streaming":  {"cord cutters", "ctv", "video on demand"},
	"insurance":  {"insurance shoppers", "auto insurance", "life insurance"},
	"pets":       {"pet owners", "dog owners", "cat owners"},
	"millennial": {"young adults", "gen y"},
}

// LocalExpander expands queries from a static synonym table. It needs no
// network access, so it never fails.
type LocalExpander struct {
	synonyms map[string][]string
	maxTerms int
}

// NewLocalExpander builds an expander from the built-in table overlaid with
// extra. Keys are matched against lowercased query tokens and the whole query.
func NewLocalExpander(extra map[string][]string, maxTerms int) *LocalExpander {
	synonyms := make(map[string][]string, len(defaultSynonyms)+len(extra))
	for k, v := range defaultSynonyms {
		synonyms[k] = v
	}
	for k, v := range extra {
		synonyms[strings.ToLower(k)] = v
	}
	return &LocalExpander{synonyms: synonyms, maxTerms: maxTerms}
}

func (l *LocalExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var terms []string
	terms = append(terms, l.synonyms[strings.ToLower(strings.TrimSpace(query))]...)
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		terms = append(terms, l.synonyms[tok]...)
		if singular := strings.TrimSuffix(tok, "s"); singular != tok {
			terms = append(terms, l.synonyms[singular]...)
		}
	}
	return withOriginal(query, terms, l.maxTerms), nil
}
