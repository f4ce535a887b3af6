package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/CTAG07/Babble/pkg/markov"
)

var errCorpusExists = errors.New("corpus already exists")

// statusForError maps library errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, markov.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, markov.ErrCorpusNotFound):
		return http.StatusNotFound
	case errors.Is(err, errCorpusExists):
		return http.StatusConflict
	case errors.Is(err, markov.ErrEmptyCorpus),
		errors.Is(err, markov.ErrInsufficientCorpus),
		errors.Is(err, markov.ErrGenerationLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// describeError turns an error into the one-line diagnostic printed by the CLI.
func describeError(err error) string {
	switch {
	case errors.Is(err, markov.ErrInvalidConfiguration):
		return "invalid configuration: " + err.Error()
	case errors.Is(err, markov.ErrEmptyCorpus):
		return "corpus is too small: " + err.Error()
	case errors.Is(err, markov.ErrInsufficientCorpus):
		return "corpus has no usable sentence boundary: " + err.Error()
	case errors.Is(err, markov.ErrGenerationLimit):
		return "no sentence ended within the token limit: " + err.Error()
	case errors.Is(err, markov.ErrCorpusNotFound):
		return err.Error()
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return err.Error()
	}
}
