package main

import (
	"context"
	"log/slog"

	"github.com/CTAG07/Babble/pkg/markov"
	lru "github.com/hashicorp/golang-lru/v2"
)

// modelCache keeps recently used models so requests don't rebuild them from
// the stored text. Models are immutable, so a cached model can be shared by
// any number of concurrent requests.
type modelCache struct {
	store  *markov.Store
	cache  *lru.Cache[string, *markov.Model]
	logger *slog.Logger
}

func newModelCache(store *markov.Store, size int, logger *slog.Logger) (*modelCache, error) {
	mc := &modelCache{store: store, logger: logger}
	cache, err := lru.NewWithEvict[string, *markov.Model](size, mc.handleEviction)
	if err != nil {
		return nil, err
	}
	mc.cache = cache
	return mc, nil
}

func (mc *modelCache) handleEviction(name string, _ *markov.Model) {
	mc.logger.Debug("Model evicted from cache", "corpus", name)
}

// Get returns the model of the named corpus, building it on a miss. Two
// concurrent misses may both build it; the last one wins.
func (mc *modelCache) Get(ctx context.Context, name string) (*markov.Model, error) {
	if m, ok := mc.cache.Get(name); ok {
		return m, nil
	}

	m, err := mc.store.LoadModel(ctx, name)
	if err != nil {
		return nil, err
	}
	mc.cache.Add(name, m)
	mc.logger.DebugContext(ctx, "Model cached", "corpus", name, "cached_models", mc.cache.Len())
	return m, nil
}

// Remove drops a corpus from the cache.
func (mc *modelCache) Remove(name string) {
	mc.cache.Remove(name)
}

// Len returns the number of cached models.
func (mc *modelCache) Len() int {
	return mc.cache.Len()
}
