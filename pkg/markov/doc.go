/*
Package markov builds phrase-frequency Markov models from plain text and
samples new sentences from them.

A Model is built once from a corpus. The text is split by a Tokenizer into
words and punctuation, every window of Order() lowercased tokens is counted
together with the token that follows it, and each window gets a cumulative
next-word Distribution. Words that the corpus nearly always writes
capitalized are remembered and capitalized again when rendering.

Generation starts from a prompt and keeps sampling until the output is long
enough and ends on a sentence-ending mark:

	m, err := markov.NewModel(text, markov.WithOrder(2))
	if err != nil {
		return err
	}
	sentence, err := m.Generate(ctx, "the", 20, markov.WithSeed(42))

When the last phrase was never observed, sampling restarts from a random
sentence boundary of the corpus instead of failing. A Model is immutable
after construction and safe for concurrent use.

Store keeps named corpora in SQLite and rebuilds their models on demand.
*/
package markov
