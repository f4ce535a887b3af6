package markov

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateStream(t *testing.T) {
	m := mustModel(t, "one fish two fish. red fish blue fish! old fish new fish?")
	ctx := context.Background()

	t.Run("Stream matches Generate", func(t *testing.T) {
		for seed := uint64(0); seed < 20; seed++ {
			stream, err := m.GenerateStream(ctx, "Red fish", 6, WithSeed(seed))
			if err != nil {
				t.Fatalf("GenerateStream failed: %v", err)
			}

			var sb strings.Builder
			var last Token
			for token := range stream {
				sb.WriteString(token.Text)
				last = token
			}
			if !last.EndMark {
				t.Errorf("seed %d: last streamed token %q is not an end-mark", seed, last.Text)
			}

			expected, err := m.Generate(ctx, "Red fish", 6, WithSeed(seed))
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if got := sb.String(); got != expected {
				t.Errorf("seed %d: streamed %q, Generate returned %q", seed, got, expected)
			}
		}
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		if _, err := m.GenerateStream(ctx, "fish", 0); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("GenerateStream() error = %v, want %v", err, ErrInvalidConfiguration)
		}
	})

	t.Run("Stops at token limit", func(t *testing.T) {
		cyclic := mustModel(t, "a b c a b c a")
		stream, err := cyclic.GenerateStream(ctx, "a", 1, WithMaxTokens(10))
		if err != nil {
			t.Fatalf("GenerateStream failed: %v", err)
		}
		count := 0
		var last Token
		for token := range stream {
			if token.Err == nil {
				count++
			}
			last = token
		}
		if count != 10 {
			t.Errorf("streamed %d tokens, want 10", count)
		}
		if !errors.Is(last.Err, ErrGenerationLimit) {
			t.Errorf("last token error = %v, want %v", last.Err, ErrGenerationLimit)
		}
	})

	t.Run("Reports missing restart point", func(t *testing.T) {
		// No end-mark at all, so an unseen phrase can't restart.
		noRestart := mustModel(t, "the cat sat on the mat")
		_, wantErr := noRestart.Generate(ctx, "", 1)
		if !errors.Is(wantErr, ErrInsufficientCorpus) {
			t.Fatalf("Generate() error = %v, want %v", wantErr, ErrInsufficientCorpus)
		}

		stream, err := noRestart.GenerateStream(ctx, "", 1)
		if err != nil {
			t.Fatalf("GenerateStream failed: %v", err)
		}
		var tokens []Token
		for token := range stream {
			tokens = append(tokens, token)
		}
		if len(tokens) != 1 {
			t.Fatalf("streamed %d tokens, want only the error token", len(tokens))
		}
		if !errors.Is(tokens[0].Err, ErrInsufficientCorpus) || tokens[0].Text != "" {
			t.Errorf("token = %+v, want an empty token carrying %v", tokens[0], ErrInsufficientCorpus)
		}
	})

	t.Run("Successful stream has no error", func(t *testing.T) {
		stream, err := m.GenerateStream(ctx, "red fish", 4, WithSeed(1))
		if err != nil {
			t.Fatalf("GenerateStream failed: %v", err)
		}
		for token := range stream {
			if token.Err != nil {
				t.Errorf("unexpected stream error: %v", token.Err)
			}
		}
	})
}

func TestGenerateStreamCancellation(t *testing.T) {
	// Without end-marks the stream only ends through the context.
	m := mustModel(t, "a b c a b c a")

	ctxCancel, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamCancel, err := m.GenerateStream(ctxCancel, "a", 1)
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	// Read one token, then cancel
	<-streamCancel
	cancel()

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-streamCancel:
			if !ok {
				return // Success, channel is closed.
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream channel to close after cancellation")
		}
	}
}

func BenchmarkGenerateStream(b *testing.B) {
	m := mustModel(b, createBenchmarkCorpus(), WithOrder(2))
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		stream, err := m.GenerateStream(ctx, "", 30, WithMaxTokens(5000))
		if err != nil {
			b.Fatalf("GenerateStream() failed: %v", err)
		}
		for range stream {
			// Drain the channel
		}
	}
}
