package markov

import "strings"

// ModelStats holds aggregated statistics for a single model.
type ModelStats struct {
	Order            int `json:"order"`
	Tokens           int `json:"tokens"`            // The number of tokens in the corpus.
	VocabSize        int `json:"vocab_size"`        // The number of unique lowercased tokens in the corpus.
	Phrases          int `json:"phrases"`           // The number of phrases with at least one successor.
	TotalChains      int `json:"total_chains"`      // The number of unique phrase->next_token links.
	TotalFrequency   int `json:"total_frequency"`   // The sum of frequencies of all links; the total number of counted transitions.
	RestartPoints    int `json:"restart_points"`    // The number of sentence boundaries generation can restart from.
	CapitalizedWords int `json:"capitalized_words"` // The size of the capitalization set.
}

// Stats returns a snapshot of statistics for the model.
func (m *Model) Stats() ModelStats {
	vocab := make(map[string]struct{})
	for _, tok := range m.corpus {
		vocab[strings.ToLower(tok)] = struct{}{}
	}

	var chains, freq int
	for _, d := range m.phrases {
		chains += len(d.Tokens)
		freq += d.Total
	}

	return ModelStats{
		Order:            m.order,
		Tokens:           len(m.corpus),
		VocabSize:        len(vocab),
		Phrases:          len(m.phrases),
		TotalChains:      chains,
		TotalFrequency:   freq,
		RestartPoints:    len(m.restarts),
		CapitalizedWords: len(m.capitalized),
	}
}
