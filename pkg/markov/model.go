package markov

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultOrder is the number of preceding tokens used to predict the next one
// when no order is configured.
const DefaultOrder = 1

// Model is a phrase-frequency model built once from a corpus. It holds the
// next-word distribution of every observed phrase, the capitalization set and
// the original corpus tokens used for fallback restarts. A Model is never
// mutated after construction, so all methods are safe for concurrent use.
type Model struct {
	order        int
	threshold    float64
	minFrequency int
	tokenizer    Tokenizer
	corpus       []string
	restarts     []int
	phrases      map[string]*Distribution
	phraseOrder  []Phrase
	capitalized  map[string]struct{}
	logger       *slog.Logger
}

// modelOptions holds the settings collected from ModelOption functions.
type modelOptions struct {
	order        int
	threshold    float64
	minFrequency int
	tokenizer    Tokenizer
	logger       *slog.Logger
}

// ModelOption is a function that configures model construction. It's used as
// a variadic argument in NewModel, NewModelFromReader and ImportModel.
type ModelOption func(*modelOptions)

// WithOrder sets the number of preceding tokens (the phrase length) used to
// predict the next token. Default: DefaultOrder.
func WithOrder(n int) ModelOption {
	return func(o *modelOptions) { o.order = n }
}

// WithCapitalizationThreshold sets the share of capitalized occurrences a
// word needs to be capitalized in generated text. It must be in (0, 1).
// Default: DefaultCapitalizationThreshold.
func WithCapitalizationThreshold(t float64) ModelOption {
	return func(o *modelOptions) { o.threshold = t }
}

// WithMinFrequency drops phrase -> token links seen fewer than n times before
// the cumulative tables are built. A value of 1 keeps every link.
func WithMinFrequency(n int) ModelOption {
	return func(o *modelOptions) { o.minFrequency = n }
}

// WithTokenizer sets the tokenizer used for the corpus, for prompts and for
// rendering. Default: NewDefaultTokenizer().
func WithTokenizer(t Tokenizer) ModelOption {
	return func(o *modelOptions) {
		if t != nil {
			o.tokenizer = t
		}
	}
}

// WithLogger sets the logger used during construction and generation. By
// default, all logs are discarded.
func WithLogger(logger *slog.Logger) ModelOption {
	return func(o *modelOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func defaultModelOptions() *modelOptions {
	return &modelOptions{
		order:        DefaultOrder,
		threshold:    DefaultCapitalizationThreshold,
		minFrequency: 1,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// validate checks the settings before any work is done.
func (o *modelOptions) validate() error {
	if o.order < 1 {
		return fmt.Errorf("%w: order must be at least 1, got %d", ErrInvalidConfiguration, o.order)
	}
	if !(o.threshold > 0 && o.threshold < 1) {
		return fmt.Errorf("%w: capitalization threshold must be in (0, 1), got %g", ErrInvalidConfiguration, o.threshold)
	}
	if o.minFrequency < 1 {
		return fmt.Errorf("%w: minimum frequency must be at least 1, got %d", ErrInvalidConfiguration, o.minFrequency)
	}
	return nil
}

func resolveModelOptions(opts []ModelOption) (*modelOptions, error) {
	options := defaultModelOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.tokenizer == nil {
		options.tokenizer = NewDefaultTokenizer()
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	return options, nil
}

// NewModel tokenizes text and builds a model from it. It returns
// ErrInvalidConfiguration for bad options and ErrEmptyCorpus when the text
// has fewer than order+1 tokens.
func NewModel(text string, opts ...ModelOption) (*Model, error) {
	return NewModelFromReader(context.Background(), strings.NewReader(text), opts...)
}

// NewModelFromReader is NewModel for a stream of text. The context is only
// used for logging; construction itself does not block.
func NewModelFromReader(ctx context.Context, r io.Reader, opts ...ModelOption) (*Model, error) {
	options, err := resolveModelOptions(opts)
	if err != nil {
		return nil, err
	}
	tokens, err := Tokenize(options.tokenizer, r)
	if err != nil {
		return nil, err
	}
	return newModelFromTokens(ctx, tokens, options)
}

func newModelFromTokens(ctx context.Context, tokens []string, options *modelOptions) (*Model, error) {
	m := &Model{
		order:        options.order,
		threshold:    options.threshold,
		minFrequency: options.minFrequency,
		tokenizer:    options.tokenizer,
		corpus:       tokens,
		logger:       options.logger,
	}
	if err := m.train(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Order returns the phrase length of the model.
func (m *Model) Order() int {
	return m.order
}

// CapitalizationThreshold returns the threshold the capitalization set was inferred with.
func (m *Model) CapitalizationThreshold() float64 {
	return m.threshold
}

// MinFrequency returns the minimum link frequency the model was built with.
func (m *Model) MinFrequency() int {
	return m.minFrequency
}

// Tokenizer returns the tokenizer the model was built with.
func (m *Model) Tokenizer() Tokenizer {
	return m.tokenizer
}

// Distribution returns the next-word distribution of phrase. The second
// result is false when the phrase was never observed. The returned value
// must not be modified.
func (m *Model) Distribution(phrase Phrase) (*Distribution, bool) {
	d, ok := m.phrases[Phrase(lowerAll(phrase)).Key()]
	return d, ok
}

// IsCapitalized reports whether word (in any case) is in the capitalization set.
func (m *Model) IsCapitalized(word string) bool {
	_, ok := m.capitalized[strings.ToLower(word)]
	return ok
}

// Phrases returns every phrase in the model in discovery order.
func (m *Model) Phrases() []Phrase {
	out := make([]Phrase, len(m.phraseOrder))
	for i, p := range m.phraseOrder {
		out[i] = append(Phrase(nil), p...)
	}
	return out
}
