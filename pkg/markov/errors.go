package markov

import "errors"

var (
	// ErrEmptyCorpus is returned at construction time when the corpus has fewer
	// than order+1 tokens, so no phrase can be built.
	ErrEmptyCorpus = errors.New("corpus too small to build a model")

	// ErrInsufficientCorpus is returned when an unseen phrase forces a fallback
	// restart but the corpus has no end-mark followed by at least order+1 tokens.
	ErrInsufficientCorpus = errors.New("corpus has no valid restart point")

	// ErrInvalidConfiguration is returned for out-of-range settings such as an
	// order below 1 or a capitalization threshold outside (0, 1).
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrGenerationLimit is returned when a generation request exceeds the
	// limit set with WithMaxTokens.
	ErrGenerationLimit = errors.New("generation exceeded token limit")

	// ErrCorpusNotFound is returned by the Store when no corpus has the requested name.
	ErrCorpusNotFound = errors.New("corpus not found")
)
