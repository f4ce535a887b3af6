package markov

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
)

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	rng         Rand
	temperature float64
	topK        int
	maxTokens   int
}

func defaultGenerateOptions() *generateOptions {
	return &generateOptions{
		rng:         globalRand{},
		temperature: 1.0,
		topK:        0,
		maxTokens:   0,
	}
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in generation functions like Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithRand sets the random source for one generation request. The source is
// used from a single goroutine and must not be shared with concurrent requests
// unless it is safe for concurrent use.
func WithRand(r Rand) GenerateOption {
	return func(o *generateOptions) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithSeed uses a new PCG source seeded with seed, making the output
// reproducible for the same model, prompt and settings.
func WithSeed(seed uint64) GenerateOption {
	return func(o *generateOptions) { o.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less frequent tokens more likely).
// Values < 1.0 decrease randomness (making more frequent tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the most frequent token).
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most frequent tokens
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

// WithMaxTokens caps the length of the working token list, prompt included.
// Generation normally runs until the minimum length is reached on an
// end-mark, which may take long on unusual corpora; exceeding the cap fails
// the request with ErrGenerationLimit. A value of 0 disables the cap.
func WithMaxTokens(n int) GenerateOption {
	return func(o *generateOptions) { o.maxTokens = n }
}

func (m *Model) resolveGenerateOptions(minWordCount int, opts []GenerateOption) (*generateOptions, error) {
	options := defaultGenerateOptions()
	for _, opt := range opts {
		opt(options)
	}

	if minWordCount < 1 || minWordCount < m.order {
		return nil, fmt.Errorf("%w: minimum word count must be at least max(1, order=%d), got %d", ErrInvalidConfiguration, m.order, minWordCount)
	}
	if options.topK < 0 {
		return nil, fmt.Errorf("%w: top-k must not be negative, got %d", ErrInvalidConfiguration, options.topK)
	}
	if options.maxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens must not be negative, got %d", ErrInvalidConfiguration, options.maxTokens)
	}
	if options.maxTokens > 0 && options.maxTokens < minWordCount {
		return nil, fmt.Errorf("%w: max tokens %d is below minimum word count %d", ErrInvalidConfiguration, options.maxTokens, minWordCount)
	}
	return options, nil
}

// Generate seeds a token list with the prompt, samples tokens until the list
// holds at least minWordCount tokens and ends on an end-mark, and renders it
// into a single string. A prompt the tokenizer fails on, such as a line
// longer than its line limit, returns ErrInvalidConfiguration wrapping the
// tokenizer's error.
//
// There is no built-in length cap: on a corpus where end-marks are rare the
// loop may run for a long time. Use a context deadline or WithMaxTokens to
// bound it. The context is checked between tokens.
func (m *Model) Generate(ctx context.Context, prompt string, minWordCount int, opts ...GenerateOption) (string, error) {
	tokens, err := m.GenerateTokens(ctx, prompt, minWordCount, opts...)
	if err != nil {
		return "", err
	}
	return m.Render(tokens), nil
}

// GenerateTokens is Generate without rendering. It returns the lowercased
// prompt tokens followed by the sampled tokens.
func (m *Model) GenerateTokens(ctx context.Context, prompt string, minWordCount int, opts ...GenerateOption) ([]string, error) {
	options, err := m.resolveGenerateOptions(minWordCount, opts)
	if err != nil {
		return nil, err
	}

	tokens, err := m.promptTokens(prompt)
	if err != nil {
		return nil, err
	}
	promptLength := len(tokens)

	for {
		if err = ctx.Err(); err != nil {
			return nil, fmt.Errorf("generation aborted after %d tokens: %w", len(tokens), err)
		}
		if options.maxTokens > 0 && len(tokens) >= options.maxTokens {
			return nil, fmt.Errorf("%w: reached %d tokens without ending a sentence", ErrGenerationLimit, len(tokens))
		}

		var next string
		next, err = m.chooseNext(ctx, tokens, options)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, next)

		if len(tokens) >= minWordCount && m.tokenizer.IsEndMark(next) {
			break
		}
	}

	m.logger.DebugContext(ctx, "Generation finished",
		slog.Int("prompt_length", promptLength),
		slog.Int("generated_length", len(tokens)-promptLength),
		slog.Int("min_word_count", minWordCount),
	)
	return tokens, nil
}

// promptTokens tokenizes and lowercases a prompt. A prompt the tokenizer
// cannot read, such as one with a line over its line limit, is rejected.
func (m *Model) promptTokens(prompt string) ([]string, error) {
	tokens, err := Tokenize(m.tokenizer, strings.NewReader(prompt))
	if err != nil {
		return nil, fmt.Errorf("%w: prompt: %w", ErrInvalidConfiguration, err)
	}
	return lowerAll(tokens), nil
}
