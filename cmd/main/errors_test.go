package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/CTAG07/Babble/pkg/markov"
	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad order: %w", markov.ErrInvalidConfiguration), http.StatusBadRequest},
		{fmt.Errorf("%w: 'x'", markov.ErrCorpusNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: 'x'", errCorpusExists), http.StatusConflict},
		{fmt.Errorf("corpus 'x' rejected: %w", markov.ErrEmptyCorpus), http.StatusUnprocessableEntity},
		{markov.ErrInsufficientCorpus, http.StatusUnprocessableEntity},
		{markov.ErrGenerationLimit, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), "statusForError(%v)", tt.err)
	}
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "interrupted", describeError(fmt.Errorf("generation: %w", context.Canceled)))
	assert.Contains(t, describeError(markov.ErrEmptyCorpus), "corpus is too small")
	assert.Contains(t, describeError(markov.ErrGenerationLimit), "token limit")
	assert.Equal(t, "plain", describeError(errors.New("plain")))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "parseLogLevel(%q)", in)
	}
}

func TestValidateCorpusName(t *testing.T) {
	for _, name := range []string{"cats", "Books_1", "a", "v1.2-final"} {
		assert.NoError(t, validateCorpusName(name), name)
	}
	for _, name := range []string{"", "import", "-lead", "has space", "a/b", strings.Repeat("a", 65)} {
		assert.ErrorIs(t, validateCorpusName(name), markov.ErrInvalidConfiguration, "%q", name)
	}
}
