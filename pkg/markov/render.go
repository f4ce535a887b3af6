package markov

import (
	"strings"
)

// Render joins tokens into a sentence using the model's tokenizer and
// capitalization set. The first token is capitalized; every later token is
// capitalized after an end-mark or when it is in the capitalization set, and
// punctuation is attached to the preceding token without a separator.
func (m *Model) Render(tokens []string) string {
	return Render(tokens, m.tokenizer, m.capitalized)
}

// Render is the model-independent form of (*Model).Render.
func Render(tokens []string, t Tokenizer, capitalized map[string]struct{}) string {
	var builder strings.Builder
	r := renderer{tokenizer: t, capitalized: capitalized}
	for _, tok := range tokens {
		builder.WriteString(r.next(tok))
	}
	return builder.String()
}

// renderer renders tokens one at a time. Each piece depends only on the
// previous token, so streaming and whole-list rendering share it.
type renderer struct {
	tokenizer   Tokenizer
	capitalized map[string]struct{}
	prev        string
	started     bool
}

// next returns tok as it appears in the output, prefixed with its separator.
func (r *renderer) next(tok string) string {
	if !r.started {
		r.started = true
		r.prev = tok
		return capitalize(tok)
	}

	sep := r.tokenizer.Separator()
	text := tok
	if r.tokenizer.IsEndMark(r.prev) {
		text = capitalize(tok)
	} else if _, ok := r.capitalized[strings.ToLower(tok)]; ok {
		text = capitalize(tok)
	} else if r.tokenizer.IsPunctuation(tok) {
		sep = ""
	}
	r.prev = tok
	return sep + text
}
