// Package strategy decides how a buyer query is searched: keyword only,
// semantic only, or both, and whether the query is worth expanding.
package strategy

import (
	"strings"
	"unicode"
)

// Mode is the catalog search mode
type Mode string

const (
	ModeFTS    Mode = "fts"
	ModeRAG    Mode = "rag"
	ModeHybrid Mode = "hybrid"
)

// UsesFTS reports whether the mode runs the keyword path
func (m Mode) UsesFTS() bool { return m == ModeFTS || m == ModeHybrid }

// UsesVector reports whether the mode runs the similarity path
func (m Mode) UsesVector() bool { return m == ModeRAG || m == ModeHybrid }

// Strategy is the outcome of classifying a query
type Strategy struct {
	Mode   Mode   `json:"mode"`
	Expand bool   `json:"expand"`
	Reason string `json:"reason"`
}

var defaultBehavioral = []string{
	"interested", "interest", "interests", "likely", "seeking", "lifestyle",
	"intent", "intender", "intenders", "shopping", "shoppers", "buyers",
	"enthusiasts", "enthusiast", "in-market", "fans", "lovers", "researching",
	"considering", "planning", "affinity",
}

var defaultDemographic = []string{
	"age", "aged", "parent", "parents", "income", "education", "educated",
	"household", "households", "children", "kids", "married", "single",
	"millennials", "millennial", "seniors", "gender", "male", "female",
	"men", "women", "homeowners", "renters", "retirees", "students", "gen-z",
}

var exclusionTerms = map[string]bool{"without": true, "except": true, "only": true}

// Options extends the built-in vocabularies
type Options struct {
	BehavioralTerms  []string
	DemographicTerms []string
	PlatformNames    []string
}

// Selector classifies queries. It is pure and safe for concurrent use.
type Selector struct {
	behavioral  map[string]bool
	demographic map[string]bool
	platforms   map[string]bool
}

// NewSelector builds a selector from the built-in vocabularies plus opts
func NewSelector(opts Options) *Selector {
	return &Selector{
		behavioral:  toSet(defaultBehavioral, opts.BehavioralTerms),
		demographic: toSet(defaultDemographic, opts.DemographicTerms),
		platforms:   toSet(nil, opts.PlatformNames),
	}
}

func toSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, term := range list {
			if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
				set[term] = true
			}
		}
	}
	return set
}

// Classify applies the rules in order; the first match wins.
//
//  1. Boolean operators, quoted phrases or segment-id tokens: FTS, no expansion.
//  2. Behavioral vocabulary: RAG with expansion.
//  3. Demographic vocabulary: HYBRID without expansion.
//  4. Otherwise by token count: 1 RAG+expand, 2 HYBRID+expand, 3-4 HYBRID
//     expanding unless an exclusion term is present, 5+ HYBRID.
func (s *Selector) Classify(query string) Strategy {
	raw := strings.Fields(query)
	if len(raw) == 0 {
		return Strategy{Mode: ModeFTS, Reason: "empty query"}
	}

	if strings.Count(query, `"`) >= 2 {
		return Strategy{Mode: ModeFTS, Reason: "quoted phrase"}
	}
	for _, tok := range raw {
		if tok == "AND" || tok == "OR" || tok == "NOT" {
			return Strategy{Mode: ModeFTS, Reason: "boolean operator"}
		}
	}

	words := make([]string, 0, len(raw))
	for _, tok := range raw {
		w := normalize(tok)
		if w == "" {
			continue
		}
		if s.isIDToken(w) {
			return Strategy{Mode: ModeFTS, Reason: "segment id token"}
		}
		words = append(words, w)
	}

	for _, w := range words {
		if s.behavioral[w] {
			return Strategy{Mode: ModeRAG, Expand: true, Reason: "behavioral intent"}
		}
	}
	for _, w := range words {
		if s.demographic[w] {
			return Strategy{Mode: ModeHybrid, Reason: "demographic attribute"}
		}
	}

	switch n := len(words); {
	case n == 0:
		return Strategy{Mode: ModeFTS, Reason: "no searchable terms"}
	case n == 1:
		return Strategy{Mode: ModeRAG, Expand: true, Reason: "single concept"}
	case n == 2:
		return Strategy{Mode: ModeHybrid, Expand: true, Reason: "short query"}
	case n <= 4:
		for _, w := range words {
			if exclusionTerms[w] {
				return Strategy{Mode: ModeHybrid, Reason: "exclusion term"}
			}
		}
		return Strategy{Mode: ModeHybrid, Expand: true, Reason: "medium query"}
	default:
		return Strategy{Mode: ModeHybrid, Reason: "long query"}
	}
}

// minIDDigits is the shortest all-digit id. Four-digit numbers read as years.
const minIDDigits = 5

func (s *Selector) isIDToken(w string) bool {
	if strings.Contains(w, "_") {
		return true
	}
	var digits, letters int
	for _, r := range w {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	switch {
	case letters == 0 && digits >= minIDDigits:
		return true
	case letters > 0 && digits >= minIDDigits-1:
		return true
	}
	return s.platforms[w]
}

// normalize lowercases a token and trims surrounding punctuation
func normalize(tok string) string {
	return strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}))
}
