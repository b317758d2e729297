package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/types"
)

// MessageSource loads the messages an Index is built from.
type MessageSource interface {
	FindByPersona(ctx context.Context, personaID string, filter types.MessageFilter) ([]types.Message, error)
}

// IndexCache holds one Index per persona. Concurrent builds for the same
// persona are collapsed into one load. Each persona carries a generation
// that Rebuild and Invalidate advance; a build started under an older
// generation never replaces a newer Index.
type IndexCache struct {
	source  MessageSource
	lexicon emotion.Lexicon

	mu      sync.RWMutex
	indexes map[string]*Index
	gens    map[string]uint64
	group   singleflight.Group
}

// NewIndexCache returns an empty cache backed by source.
func NewIndexCache(source MessageSource, lex emotion.Lexicon) *IndexCache {
	return &IndexCache{
		source:  source,
		lexicon: lex,
		indexes: make(map[string]*Index),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached Index for a persona, building it on first use.
func (c *IndexCache) Get(ctx context.Context, personaID string) (*Index, error) {
	c.mu.RLock()
	idx, ok := c.indexes[personaID]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := c.group.Do(personaID, func() (any, error) {
		c.mu.RLock()
		idx, ok := c.indexes[personaID]
		gen := c.gens[personaID]
		c.mu.RUnlock()
		if ok {
			return idx, nil
		}
		return c.build(ctx, personaID, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Rebuild loads a fresh Index and swaps it in. Readers holding the old Index
// keep using it undisturbed. An in-flight Get started before the rebuild is
// detached so later callers do not join its stale load.
func (c *IndexCache) Rebuild(ctx context.Context, personaID string) (*Index, error) {
	gen := c.advance(personaID)
	c.group.Forget(personaID)
	return c.build(ctx, personaID, gen)
}

// Invalidate drops the cached Index of a persona.
func (c *IndexCache) Invalidate(personaID string) {
	c.mu.Lock()
	delete(c.indexes, personaID)
	c.gens[personaID]++
	c.mu.Unlock()
	c.group.Forget(personaID)
}

func (c *IndexCache) advance(personaID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[personaID]++
	return c.gens[personaID]
}

func (c *IndexCache) build(ctx context.Context, personaID string, gen uint64) (*Index, error) {
	msgs, err := c.source.FindByPersona(ctx, personaID, types.MessageFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load persona messages: %w", err)
	}
	idx := BuildIndex(personaID, msgs, c.lexicon)

	c.mu.Lock()
	if c.gens[personaID] != gen {
		current, ok := c.indexes[personaID]
		c.mu.Unlock()
		slog.Debug("discarding stale retrieval index", "persona_id", personaID, "generation", gen)
		if ok {
			return current, nil
		}
		return idx, nil
	}
	c.indexes[personaID] = idx
	c.mu.Unlock()

	slog.Debug("retrieval index built",
		"persona_id", personaID,
		"generation", gen,
		"messages", idx.Len(),
		"patterns", idx.PatternCount(),
		"has_embeddings", idx.HasEmbeddings())
	return idx, nil
}
