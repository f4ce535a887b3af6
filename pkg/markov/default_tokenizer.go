package markov

import (
	"bufio"
	"io"
	"regexp"
)

// DefaultMaxLineSize is the longest line, in bytes, the default stream
// tokenizer accepts. Corpora without line breaks are common, so it is far
// larger than bufio's 64KiB default.
const DefaultMaxLineSize = 16 << 20

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It uses regular expressions to split text into words and punctuation,
// and identifies sentence-ending punctuation as end-marks.
// Its behavior can be customized with functional options.
type DefaultTokenizer struct {
	separator        string
	maxLineSize      int
	separatorRegex   *regexp.Regexp
	endMarkRegex     *regexp.Regexp
	punctuationRegex *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator Sets the string used for joining tokens during rendering.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithSeparatorRegex sets the regex string to use when splitting input text.
// Every match becomes a token, everything in between is discarded.
// Default: `[\p{L}\p{M}\p{N}_']+|[.,!?;]`
func WithSeparatorRegex(splitRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.separatorRegex = regexp.MustCompile(splitRegex)
	}
}

// WithEndMarkRegex sets the regex string to use when deciding whether a token ends a sentence.
// Default: `^[.!?]$`
func WithEndMarkRegex(endMarkRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.endMarkRegex = regexp.MustCompile(endMarkRegex)
	}
}

// WithPunctuationRegex sets the regex string to use when deciding whether a token is punctuation,
// which suppresses the separator before it.
// Default: `^[.,!?;]$`
func WithPunctuationRegex(punctuationRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.punctuationRegex = regexp.MustCompile(punctuationRegex)
	}
}

// WithMaxLineSize sets the longest line the stream tokenizer will buffer.
// Default: DefaultMaxLineSize
func WithMaxLineSize(n int) Option {
	return func(t *DefaultTokenizer) {
		if n > 0 {
			t.maxLineSize = n
		}
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator:   " ",
		maxLineSize: DefaultMaxLineSize,
		// Runs of word characters (letters, marks, digits, underscore) and apostrophes,
		// OR single instances of common punctuation.
		separatorRegex: regexp.MustCompile(`[\p{L}\p{M}\p{N}_']+|[.,!?;]`),
		// Sentence-ending punctuation marks.
		endMarkRegex: regexp.MustCompile(`^[.!?]$`),
		// Characters that don't get a separator put before them.
		punctuationRegex: regexp.MustCompile(`^[.,!?;]$`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Separator Returns the configured separator string.
func (t *DefaultTokenizer) Separator() string {
	return t.separator
}

// IsEndMark reports whether token is one of the sentence-ending marks.
func (t *DefaultTokenizer) IsEndMark(token string) bool {
	return t.endMarkRegex.MatchString(token)
}

// IsPunctuation reports whether token is a punctuation mark.
func (t *DefaultTokenizer) IsPunctuation(token string) bool {
	return t.punctuationRegex.MatchString(token)
}

// NewStream Returns the stream processor.
func (t *DefaultTokenizer) NewStream(r io.Reader) StreamTokenizer {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(bufio.MaxScanTokenSize, t.maxLineSize)), t.maxLineSize)
	return &DefaultStreamTokenizer{
		scanner:      scanner,
		buffer:       []string{},
		splitRegex:   t.separatorRegex,
		endMarkRegex: t.endMarkRegex,
	}
}

// DefaultStreamTokenizer is the default implementation of the StreamTokenizer interface.
// It uses a bufio.Scanner and regular expressions to read and tokenize a stream.
type DefaultStreamTokenizer struct {
	scanner      *bufio.Scanner
	buffer       []string
	splitRegex   *regexp.Regexp
	endMarkRegex *regexp.Regexp
}

// Next returns the next token from the stream. It returns a Token and a nil error on
// success. When the stream is exhausted, it returns a nil Token and io.EOF.
// Any other error indicates a problem reading from the underlying stream.
func (s *DefaultStreamTokenizer) Next() (*Token, error) {
	for len(s.buffer) == 0 { // Loop until we have tokens
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		s.buffer = s.splitRegex.FindAllString(s.scanner.Text(), -1)
	}

	word := s.buffer[0]
	s.buffer = s.buffer[1:]

	return &Token{Text: word, EndMark: s.endMarkRegex.MatchString(word)}, nil
}
