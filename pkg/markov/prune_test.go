package markov

import (
	"errors"
	"reflect"
	"testing"
)

func TestMinFrequency(t *testing.T) {
	const corpus = "a b. a b. a c."

	m := mustModel(t, corpus, WithMinFrequency(2))

	d, ok := m.Distribution(Phrase{"a"})
	if !ok {
		t.Fatal("expected 'a' to survive pruning")
	}
	if !reflect.DeepEqual(d.Tokens, []string{"b"}) {
		t.Errorf("successors of 'a' = %v, want [b]", d.Tokens)
	}
	if d.Bounds[len(d.Bounds)-1] != 1.0 {
		t.Errorf("pruned distribution does not end at 1: %v", d.Bounds)
	}
	if _, ok := m.Distribution(Phrase{"c"}); ok {
		t.Error("expected 'c' to be pruned, its only link was seen once")
	}

	expectedPhrases := []Phrase{{"a"}, {"b"}, {"."}}
	if got := m.Phrases(); !reflect.DeepEqual(got, expectedPhrases) {
		t.Errorf("Phrases() = %v, want %v", got, expectedPhrases)
	}

	unpruned := mustModel(t, corpus)
	if unpruned.Stats().TotalChains <= m.Stats().TotalChains {
		t.Error("expected pruning to remove links")
	}

	if _, err := NewModel(corpus, WithMinFrequency(3)); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("pruning every link: error = %v, want %v", err, ErrEmptyCorpus)
	}
}

func TestPruneRestartPoints(t *testing.T) {
	// 'x' follows an end-mark once and is pruned, so that boundary can no
	// longer be used to restart.
	m := mustModel(t, "a b. a b. x y. a b. a", WithMinFrequency(2))

	for _, i := range m.restarts {
		if _, ok := m.phrases[m.restartPhrase(i).Key()]; !ok {
			t.Errorf("restart point %d leads to pruned phrase %v", i, m.restartPhrase(i))
		}
	}
	if len(m.restarts) != 2 {
		t.Errorf("expected 2 restart points, got %d", len(m.restarts))
	}
}

func TestPhraseTablePrune(t *testing.T) {
	pt := countPhrases([]string{"a", "b", "a", "b", "a", "c", "d"}, 1)

	links, phrases := pt.prune(2)
	if links != 2 || phrases != 1 {
		t.Errorf("prune(2) removed %d links and %d phrases, want 2 and 1", links, phrases)
	}

	// a -> b and b -> a were both seen twice.
	dists, order := pt.distributions()
	if len(dists) != 2 || len(order) != 2 {
		t.Errorf("expected 2 phrases after pruning, got %d", len(dists))
	}

	if links, phrases = pt.prune(1); links != 0 || phrases != 0 {
		t.Error("prune(1) should be a no-op")
	}
}
