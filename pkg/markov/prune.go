package markov

// prune removes all successor links seen fewer than minFreq times. This is
// useful for reducing the size of a model built from a large corpus by
// removing rare, and often noisy, transitions. Phrases left without any
// successor are dropped from the table. It returns how many links and
// phrases were removed.
func (pt *phraseTable) prune(minFreq int) (linksRemoved, phrasesRemoved int) {
	if minFreq <= 1 {
		return 0, 0
	}

	kept := pt.phrases[:0]
	for _, phrase := range pt.phrases {
		key := phrase.Key()
		s := pt.counts[key]

		pruned := newSuccessors()
		for i, tok := range s.tokens {
			if s.counts[i] < minFreq {
				linksRemoved++
				continue
			}
			pruned.add(tok, s.counts[i])
		}

		if len(pruned.tokens) == 0 {
			delete(pt.counts, key)
			phrasesRemoved++
			continue
		}
		pt.counts[key] = pruned
		kept = append(kept, phrase)
	}
	pt.phrases = kept
	return linksRemoved, phrasesRemoved
}
