package markov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// ExportedModel is the serializable representation of a built model,
// used for JSON-based import and export.
type ExportedModel struct {
	Order                   int              `json:"order"`
	CapitalizationThreshold float64          `json:"capitalization_threshold"`
	MinFrequency            int              `json:"min_frequency"`
	Corpus                  []string         `json:"corpus"`      // original-case tokens
	Capitalized             []string         `json:"capitalized"` // sorted
	Phrases                 []ExportedPhrase `json:"phrases"`     // discovery order
}

// ExportedPhrase is the serializable representation of a single phrase and
// its successors, used within an ExportedModel.
type ExportedPhrase struct {
	Phrase []string       `json:"phrase"`
	Next   []ExportedLink `json:"next"`
}

// ExportedLink is one phrase -> token link with its frequency.
type ExportedLink struct {
	Token     string `json:"token"`
	Frequency int    `json:"frequency"`
}

// Export serializes the model into a JSON format and writes it to the
// provided io.Writer. Phrases and successors keep their discovery order, so
// an imported model samples exactly like the exported one.
func (m *Model) Export(w io.Writer) error {
	capitalized := make([]string, 0, len(m.capitalized))
	for word := range m.capitalized {
		capitalized = append(capitalized, word)
	}
	sort.Strings(capitalized)

	phrases := make([]ExportedPhrase, 0, len(m.phraseOrder))
	for _, phrase := range m.phraseOrder {
		d := m.phrases[phrase.Key()]
		links := make([]ExportedLink, len(d.Tokens))
		for i, tok := range d.Tokens {
			links[i] = ExportedLink{Token: tok, Frequency: d.Counts[i]}
		}
		phrases = append(phrases, ExportedPhrase{Phrase: phrase, Next: links})
	}

	exported := ExportedModel{
		Order:                   m.order,
		CapitalizationThreshold: m.threshold,
		MinFrequency:            m.minFrequency,
		Corpus:                  m.corpus,
		Capitalized:             capitalized,
		Phrases:                 phrases,
	}

	m.logger.Info("Model exported",
		slog.Int("order", m.order),
		slog.Int("tokens_exported", len(m.corpus)),
		slog.Int("phrases_exported", len(phrases)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportModel reads a JSON representation of a model from an io.Reader and
// builds a new, independent model from it. Order, threshold and minimum
// frequency come from the data; WithTokenizer and WithLogger are honored.
// The data is validated against the model invariants, and every phrase,
// successor and capitalized word must occur in the corpus. Frequencies are
// taken as given, so they may differ from what the corpus would count.
// Restart points come from the corpus; a point whose following phrase is not
// in the table is skipped.
func ImportModel(ctx context.Context, r io.Reader, opts ...ModelOption) (*Model, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return nil, fmt.Errorf("failed to decode json model: %w", err)
	}

	opts = append(opts,
		WithOrder(imported.Order),
		WithCapitalizationThreshold(imported.CapitalizationThreshold),
		WithMinFrequency(imported.MinFrequency),
	)
	options, err := resolveModelOptions(opts)
	if err != nil {
		return nil, err
	}

	if len(imported.Corpus) < options.order+1 {
		return nil, fmt.Errorf("%w: %d tokens, order %d needs at least %d", ErrEmptyCorpus, len(imported.Corpus), options.order, options.order+1)
	}
	if len(imported.Phrases) == 0 {
		return nil, fmt.Errorf("%w: model has no phrases", ErrEmptyCorpus)
	}

	vocab := make(map[string]struct{}, len(imported.Corpus))
	for _, tok := range lowerAll(imported.Corpus) {
		vocab[tok] = struct{}{}
	}
	inCorpus := func(tokens ...string) (string, bool) {
		for _, tok := range tokens {
			if _, ok := vocab[strings.ToLower(tok)]; !ok {
				return tok, false
			}
		}
		return "", true
	}

	table := newPhraseTable(options.order)
	for i, p := range imported.Phrases {
		if len(p.Phrase) != options.order {
			return nil, fmt.Errorf("import consistency error: phrase %d has %d tokens, model order is %d", i, len(p.Phrase), options.order)
		}
		if tok, ok := inCorpus(p.Phrase...); !ok {
			return nil, fmt.Errorf("import consistency error: phrase %d uses %q, which is not in the corpus", i, tok)
		}
		phrase := Phrase(lowerAll(p.Phrase))
		if _, dup := table.counts[phrase.Key()]; dup {
			return nil, fmt.Errorf("import consistency error: phrase %q appears twice", phrase.String())
		}
		if len(p.Next) == 0 {
			return nil, fmt.Errorf("import consistency error: phrase %q has no successors", phrase.String())
		}
		for _, link := range p.Next {
			if link.Frequency < 1 {
				return nil, fmt.Errorf("import consistency error: phrase %q -> %q has frequency %d", phrase.String(), link.Token, link.Frequency)
			}
			if _, ok := inCorpus(link.Token); !ok {
				return nil, fmt.Errorf("import consistency error: phrase %q -> %q, which is not in the corpus", phrase.String(), link.Token)
			}
			table.add(phrase, strings.ToLower(link.Token), link.Frequency)
		}
	}

	capitalized := make(map[string]struct{}, len(imported.Capitalized))
	for _, word := range imported.Capitalized {
		if _, ok := inCorpus(word); !ok {
			return nil, fmt.Errorf("import consistency error: capitalized word %q is not in the corpus", word)
		}
		capitalized[strings.ToLower(word)] = struct{}{}
	}

	m := &Model{
		order:        options.order,
		threshold:    options.threshold,
		minFrequency: options.minFrequency,
		tokenizer:    options.tokenizer,
		corpus:       imported.Corpus,
		capitalized:  capitalized,
		logger:       options.logger,
	}
	m.phrases, m.phraseOrder = table.distributions()
	m.restarts = m.validRestarts(restartPoints(m.corpus, m.order, m.tokenizer))

	m.logger.InfoContext(ctx, "Model imported",
		slog.Int("order", m.order),
		slog.Int("tokens_imported", len(m.corpus)),
		slog.Int("phrases_imported", len(m.phrases)),
		slog.Int("restart_points", len(m.restarts)),
	)
	return m, nil
}
