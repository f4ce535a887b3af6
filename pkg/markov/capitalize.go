package markov

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCapitalizationThreshold is the share of capitalized occurrences a
// word needs before generated text capitalizes it everywhere.
const DefaultCapitalizationThreshold = 0.9

// InferCapitalization scans the original-case corpus and returns the set of
// lowercased words that should be rendered capitalized. A word qualifies when
// lowercase/uppercase occurrences < 1-threshold; a word never seen lowercase
// qualifies as soon as it is seen capitalized once.
func InferCapitalization(tokens []string, threshold float64) map[string]struct{} {
	upper := make(map[string]int)
	lower := make(map[string]int)
	for _, tok := range tokens {
		if hasUpper(tok) {
			upper[strings.ToLower(tok)]++
		} else {
			lower[tok]++
		}
	}

	limit := 1 - threshold
	capitalized := make(map[string]struct{})
	for word, up := range upper {
		if float64(lower[word])/float64(up) < limit {
			capitalized[word] = struct{}{}
		}
	}
	return capitalized
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// capitalize upper-cases the first letter of s and leaves the rest untouched.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
