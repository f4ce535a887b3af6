package markov

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
)

// Rand is the random source used for sampling. *rand.Rand from math/rand/v2
// satisfies it. Implementations are not required to be safe for concurrent
// use unless they are shared between generation requests.
type Rand interface {
	// Float64 returns a number in [0, 1).
	Float64() float64
	// IntN returns a number in [0, n).
	IntN(n int) int
}

// globalRand uses the math/rand/v2 top-level functions, which are safe for
// concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// ChooseNextWord samples the token that follows history. The last Order()
// tokens of history are lowercased and looked up; when that phrase was never
// observed (including histories shorter than the order), sampling restarts
// from a random sentence boundary of the corpus instead. It returns
// ErrInsufficientCorpus if the corpus has no such boundary. A nil rng uses
// the global source.
func (m *Model) ChooseNextWord(history []string, rng Rand) (string, error) {
	options := defaultGenerateOptions()
	if rng != nil {
		options.rng = rng
	}
	return m.chooseNext(context.Background(), history, options)
}

// lookup returns the distribution for the trailing phrase of history.
func (m *Model) lookup(history []string) (*Distribution, Phrase, bool) {
	if len(history) < m.order {
		return nil, nil, false
	}
	phrase := Phrase(lowerAll(history[len(history)-m.order:]))
	d, ok := m.phrases[phrase.Key()]
	return d, phrase, ok
}

func (m *Model) chooseNext(ctx context.Context, history []string, options *generateOptions) (string, error) {
	dist, phrase, ok := m.lookup(history)
	if !ok {
		var err error
		dist, err = m.restart(ctx, phrase, options.rng)
		if err != nil {
			return "", err
		}
	}
	return chooseNextToken(dist, options), nil
}

// restart picks a random restart point and returns the distribution of the
// phrase that follows it.
func (m *Model) restart(ctx context.Context, missed Phrase, rng Rand) (*Distribution, error) {
	if len(m.restarts) == 0 {
		return nil, fmt.Errorf("%w: no end-mark is followed by %d tokens (unseen phrase %q)", ErrInsufficientCorpus, m.order+1, missed.String())
	}
	point := m.restarts[rng.IntN(len(m.restarts))]
	phrase := m.restartPhrase(point)

	m.logger.DebugContext(ctx, "Unseen phrase, restarting from sentence boundary",
		slog.String("missed_phrase", missed.String()),
		slog.String("restart_phrase", phrase.String()),
		slog.Int("corpus_index", point),
	)
	return m.phrases[phrase.Key()], nil
}

// chooseNextToken abstracts the token selection logic from the generation loop.
// Without temperature or top-K it draws from the cumulative table directly.
func chooseNextToken(dist *Distribution, options *generateOptions) string {
	filtered := options.topK > 0 && options.topK < len(dist.Tokens)
	if !filtered && options.temperature == 1.0 {
		return dist.Pick(options.rng.Float64())
	}

	// Candidate indices, most frequent first when top-K applies. The stable
	// sort keeps discovery order among equal counts.
	candidates := make([]int, len(dist.Tokens))
	for i := range candidates {
		candidates[i] = i
	}
	if filtered {
		sort.SliceStable(candidates, func(a, b int) bool {
			return dist.Counts[candidates[a]] > dist.Counts[candidates[b]]
		})
		candidates = candidates[:options.topK]
		sort.Ints(candidates)
	}

	if options.temperature <= 0 { // Deterministic
		best := candidates[0]
		for _, c := range candidates[1:] {
			if dist.Counts[c] > dist.Counts[best] {
				best = c
			}
		}
		return dist.Tokens[best]
	}

	weights := make([]float64, len(candidates))
	if options.temperature == 1.0 {
		for i, c := range candidates {
			weights[i] = float64(dist.Counts[c])
		}
	} else {
		// Scale in log space and subtract the maximum to keep exp() in range.
		maxLog := math.Inf(-1)
		for i, c := range candidates {
			lp := math.Log(float64(dist.Counts[c])) / options.temperature
			weights[i] = lp
			if lp > maxLog {
				maxLog = lp
			}
		}
		for i, lp := range weights {
			weights[i] = math.Exp(lp - maxLog)
		}
	}

	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}
	randChoice := options.rng.Float64() * totalWeight
	for i, c := range candidates {
		randChoice -= weights[i]
		if randChoice < 0 {
			return dist.Tokens[c]
		}
	}
	return dist.Tokens[candidates[len(candidates)-1]]
}
