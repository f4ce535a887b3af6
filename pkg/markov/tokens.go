package markov

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Token represents a single tokenized unit of text. It contains the text itself
// and a boolean flag indicating if it is a sentence-ending punctuation mark.
type Token struct {
	Text    string
	EndMark bool
	// Err is only set on the last token of a failed GenerateStream.
	Err error
}

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens and for classifying them. This allows the model and the
// renderer to be independent of the specific tokenization strategy.
type Tokenizer interface {
	// NewStream returns a stateful StreamTokenizer for processing an io.Reader.
	NewStream(io.Reader) StreamTokenizer
	// Separator returns the string placed between two rendered tokens when
	// no punctuation rule suppresses it.
	Separator() string
	// IsEndMark reports whether a token terminates a sentence.
	IsEndMark(token string) bool
	// IsPunctuation reports whether a token is a punctuation mark. No
	// separator is rendered before punctuation.
	IsPunctuation(token string) bool
}

// StreamTokenizer is an interface for a stateful tokenizer that processes a
// stream of data, returning one token at a time.
type StreamTokenizer interface {
	// Next returns the next token from the stream. It returns io.EOF as the
	// error when the stream is fully consumed.
	Next() (*Token, error)
}

// Tokenize drains the reader through t and returns every token with its
// original casing. On a read error the tokens read so far are returned
// together with the error.
func Tokenize(t Tokenizer, r io.Reader) ([]string, error) {
	stream := t.NewStream(r)
	var tokens []string
	for {
		token, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return tokens, nil
			}
			return tokens, fmt.Errorf("tokenizer error: %w", err)
		}
		tokens = append(tokens, token.Text)
	}
}

// TokenizeString is Tokenize for an in-memory string. Reading from a string
// only fails when a line exceeds the tokenizer's line limit, in which case the
// tokens before that line are returned.
func TokenizeString(t Tokenizer, s string) []string {
	tokens, _ := Tokenize(t, strings.NewReader(s))
	return tokens
}

// lowerAll returns a lowercased copy of tokens.
func lowerAll(tokens []string) []string {
	lowered := make([]string, len(tokens))
	for i, tok := range tokens {
		lowered[i] = strings.ToLower(tok)
	}
	return lowered
}
