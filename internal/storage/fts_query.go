package storage

import (
	"strings"
	"unicode"
)

// maxFTSTerms caps the number of operands passed to MATCH
const maxFTSTerms = 20

type ftsToken struct {
	text string
	op   bool
}

// BuildFTSQuery turns free text into a safe FTS5 MATCH expression.
//
// Uppercase AND, OR and NOT are kept as operators when they sit between two
// operands. Quoted phrases stay phrases. Every other word is quoted so that
// FTS5 syntax characters in user input cannot break the query. Without any
// operator the words are OR-joined. An input with no usable words yields "".
func BuildFTSQuery(query string) string {
	tokens := tokenizeFTS(query)

	var out []ftsToken
	hasOp := false
	operands := 0
	for _, tok := range tokens {
		if tok.op {
			if len(out) == 0 {
				continue
			}
			if out[len(out)-1].op {
				out[len(out)-1] = tok
				continue
			}
			out = append(out, tok)
			continue
		}
		if operands == maxFTSTerms {
			break
		}
		out = append(out, tok)
		operands++
	}
	for len(out) > 0 && out[len(out)-1].op {
		out = out[:len(out)-1]
	}
	for _, tok := range out {
		if tok.op {
			hasOp = true
		}
	}

	parts := make([]string, 0, len(out)*2)
	for i, tok := range out {
		if !hasOp && i > 0 {
			parts = append(parts, "OR")
		}
		if tok.op {
			parts = append(parts, tok.text)
			continue
		}
		parts = append(parts, `"`+tok.text+`"`)
	}
	return strings.Join(parts, " ")
}

// tokenizeFTS splits raw input into operators, phrases and cleaned words
func tokenizeFTS(query string) []ftsToken {
	var tokens []ftsToken
	runes := []rune(query)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			phrase := strings.Join(cleanWords(string(runes[i+1:end])), " ")
			if phrase != "" {
				tokens = append(tokens, ftsToken{text: phrase})
			}
			i = end + 1
		default:
			end := i
			for end < len(runes) && !unicode.IsSpace(runes[end]) && runes[end] != '"' {
				end++
			}
			word := string(runes[i:end])
			if IsFTSOperator(word) {
				tokens = append(tokens, ftsToken{text: word, op: true})
			} else {
				for _, w := range cleanWords(word) {
					tokens = append(tokens, ftsToken{text: w})
				}
			}
			i = end
		}
	}
	return tokens
}

// IsFTSOperator reports whether word is an uppercase boolean operator
func IsFTSOperator(word string) bool {
	return word == "AND" || word == "OR" || word == "NOT"
}

// cleanWords drops characters outside letters, digits, underscore and hyphen
func cleanWords(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return ' '
	}, s)

	var words []string
	for _, w := range strings.Fields(cleaned) {
		if strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			words = append(words, w)
		}
	}
	return words
}
