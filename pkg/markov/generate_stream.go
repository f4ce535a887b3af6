package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// GenerateStream runs the same loop as Generate and returns a read-only
// channel of rendered Tokens. Each Token's Text already carries its
// separator and capitalization, so concatenating the stream yields the same
// string Generate would. The prompt tokens are sent first. The channel is
// closed once a sentence of at least minWordCount tokens is complete, when
// the context is cancelled, or when sampling fails. A failure is delivered as
// a final Token whose Err is set (ErrInsufficientCorpus, ErrGenerationLimit)
// and whose Text is empty. Cancellation closes the channel without one.
// Configuration errors, an unreadable prompt included, are returned before
// the stream starts.
func (m *Model) GenerateStream(ctx context.Context, prompt string, minWordCount int, opts ...GenerateOption) (<-chan Token, error) {
	options, err := m.resolveGenerateOptions(minWordCount, opts)
	if err != nil {
		return nil, err
	}

	tokens, err := m.promptTokens(prompt)
	if err != nil {
		return nil, err
	}
	tokenChan := make(chan Token)

	go func() {
		defer close(tokenChan)

		r := renderer{tokenizer: m.tokenizer, capitalized: m.capitalized}
		send := func(tok string) bool {
			select {
			case <-ctx.Done():
				return false
			case tokenChan <- Token{Text: r.next(tok), EndMark: m.tokenizer.IsEndMark(tok)}:
				return true
			}
		}

		for _, tok := range tokens {
			if !send(tok) {
				return
			}
		}

		fail := func(err error) {
			select {
			case <-ctx.Done():
			case tokenChan <- Token{Err: err}:
			}
		}

		for {
			select {
			case <-ctx.Done():
				m.logger.DebugContext(ctx, "Generation stream cancelled by context", slog.Int("generated_length", len(tokens)))
				return
			default:
				// continue
			}
			if options.maxTokens > 0 && len(tokens) >= options.maxTokens {
				m.logger.WarnContext(ctx, "Generation stream reached token limit", slog.Int("max_tokens", options.maxTokens))
				fail(fmt.Errorf("%w: reached %d tokens without ending a sentence", ErrGenerationLimit, len(tokens)))
				return
			}

			next, err := m.chooseNext(ctx, tokens, options)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to choose next token for stream", slog.Any("error", err))
				fail(err)
				return
			}
			tokens = append(tokens, next)
			if !send(next) {
				return
			}

			if len(tokens) >= minWordCount && m.tokenizer.IsEndMark(next) {
				return
			}
		}
	}()

	return tokenChan, nil
}
