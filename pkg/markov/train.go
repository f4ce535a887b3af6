package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// phraseTable is a phrase model under construction: successor counts per
// phrase, with phrases and successors both kept in discovery order.
type phraseTable struct {
	order   int
	phrases []Phrase
	counts  map[string]*successors
}

func newPhraseTable(order int) *phraseTable {
	return &phraseTable{
		order:  order,
		counts: make(map[string]*successors),
	}
}

// add records n occurrences of next following phrase.
func (pt *phraseTable) add(phrase Phrase, next string, n int) {
	key := phrase.Key()
	s, ok := pt.counts[key]
	if !ok {
		s = newSuccessors()
		pt.counts[key] = s
		pt.phrases = append(pt.phrases, phrase)
	}
	s.add(next, n)
}

// countPhrases slides an order-wide window over the lowercased tokens and
// counts the token that follows each window.
func countPhrases(lowered []string, order int) *phraseTable {
	pt := newPhraseTable(order)
	for i := 0; i+order < len(lowered); i++ {
		// The window is copied so the table never aliases the caller's slice.
		phrase := make(Phrase, order)
		copy(phrase, lowered[i:i+order])
		pt.add(phrase, lowered[i+order], 1)
	}
	return pt
}

// distributions converts the counts into cumulative tables. Phrases without
// any remaining successor are skipped.
func (pt *phraseTable) distributions() (map[string]*Distribution, []Phrase) {
	dists := make(map[string]*Distribution, len(pt.phrases))
	order := make([]Phrase, 0, len(pt.phrases))
	for _, phrase := range pt.phrases {
		key := phrase.Key()
		s := pt.counts[key]
		dist := newDistribution(s.tokens, s.counts)
		if dist == nil {
			continue
		}
		dists[key] = dist
		order = append(order, phrase)
	}
	return dists, order
}

// restartPoints returns every index holding an end-mark that is followed by
// at least order+1 tokens. The order tokens after such an index always form a
// phrase present in the unpruned model.
func restartPoints(corpus []string, order int, t Tokenizer) []int {
	var points []int
	for i, tok := range corpus {
		if len(corpus)-i-1 < order+1 {
			break
		}
		if t.IsEndMark(tok) {
			points = append(points, i)
		}
	}
	return points
}

// train builds the model's phrase table and derived data from its corpus.
// It is only called while the model is being constructed.
func (m *Model) train(ctx context.Context) error {
	if len(m.corpus) < m.order+1 {
		return fmt.Errorf("%w: %d tokens, order %d needs at least %d", ErrEmptyCorpus, len(m.corpus), m.order, m.order+1)
	}

	table := countPhrases(lowerAll(m.corpus), m.order)

	if m.minFrequency > 1 {
		links, phrases := table.prune(m.minFrequency)
		m.logger.DebugContext(ctx, "Phrase table pruned",
			slog.Int("min_frequency", m.minFrequency),
			slog.Int("links_removed", links),
			slog.Int("phrases_removed", phrases),
		)
	}

	m.phrases, m.phraseOrder = table.distributions()
	if len(m.phrases) == 0 {
		return fmt.Errorf("%w: no phrase reaches minimum frequency %d", ErrEmptyCorpus, m.minFrequency)
	}

	m.restarts = m.validRestarts(restartPoints(m.corpus, m.order, m.tokenizer))
	m.capitalized = InferCapitalization(m.corpus, m.threshold)

	m.logger.InfoContext(ctx, "Model built",
		slog.Int("order", m.order),
		slog.Int("tokens", len(m.corpus)),
		slog.Int("phrases", len(m.phrases)),
		slog.Int("restart_points", len(m.restarts)),
		slog.Int("capitalized_words", len(m.capitalized)),
	)
	return nil
}

// validRestarts keeps the restart points whose following phrase is still in
// the model. Without pruning every point survives.
func (m *Model) validRestarts(points []int) []int {
	valid := points[:0]
	for _, i := range points {
		if _, ok := m.phrases[m.restartPhrase(i).Key()]; ok {
			valid = append(valid, i)
		}
	}
	return valid
}

// restartPhrase returns the lowercased phrase that follows the restart index i.
func (m *Model) restartPhrase(i int) Phrase {
	return Phrase(lowerAll(m.corpus[i+1 : i+1+m.order]))
}
