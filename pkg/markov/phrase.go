package markov

import (
	"sort"
	"strings"
)

// phraseDelimiter joins phrase tokens into a map key. The tokenizer never
// emits control characters, so keys cannot collide.
const phraseDelimiter = "\x1f"

// Phrase is an ordered window of lowercased tokens used as a model lookup key.
type Phrase []string

// Key returns the map key for the phrase.
func (p Phrase) Key() string {
	return strings.Join(p, phraseDelimiter)
}

// String renders the phrase for logs and errors.
func (p Phrase) String() string {
	return strings.Join(p, " ")
}

// Distribution is the next-word table of a single phrase. Tokens are in the
// order they were first seen following the phrase; Bounds[i] is the
// cumulative probability up to and including Tokens[i] and the last bound is
// exactly 1.
type Distribution struct {
	Tokens []string
	Counts []int
	Bounds []float64
	Total  int
}

// newDistribution converts successor counts into a cumulative table. It
// returns nil when there are no successors.
func newDistribution(tokens []string, counts []int) *Distribution {
	if len(tokens) == 0 {
		return nil
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	bounds := make([]float64, len(counts))
	running := 0
	for i, c := range counts {
		running += c
		bounds[i] = float64(running) / float64(total)
	}
	return &Distribution{
		Tokens: tokens,
		Counts: counts,
		Bounds: bounds,
		Total:  total,
	}
}

// Pick returns the candidate whose cumulative bound is the smallest bound >= r.
// r must be in [0, 1).
func (d *Distribution) Pick(r float64) string {
	i := sort.SearchFloat64s(d.Bounds, r)
	if i >= len(d.Tokens) { // r >= 1, only reachable through a broken source
		i = len(d.Tokens) - 1
	}
	return d.Tokens[i]
}

// Probability returns the weight of token in the distribution, or 0 if it
// never follows the phrase.
func (d *Distribution) Probability(token string) float64 {
	for i, t := range d.Tokens {
		if t == token {
			return float64(d.Counts[i]) / float64(d.Total)
		}
	}
	return 0
}

// successors counts next-word occurrences for a single phrase while
// remembering the order in which each word was first seen.
type successors struct {
	index  map[string]int
	tokens []string
	counts []int
}

func newSuccessors() *successors {
	return &successors{index: make(map[string]int)}
}

func (s *successors) add(token string, n int) {
	if i, ok := s.index[token]; ok {
		s.counts[i] += n
		return
	}
	s.index[token] = len(s.tokens)
	s.tokens = append(s.tokens, token)
	s.counts = append(s.counts, n)
}
