package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/easeaico/second-self/internal/types"
)

// Query is one retrieval request as seen by a strategy.
type Query struct {
	Text       string
	PersonaID  string
	Context    []string
	Emotion    types.Emotion
	IsQuestion bool
	// Limit is the cap of the strategy entry that receives the query.
	Limit int
}

// Strategy scores persona messages against a query.
type Strategy interface {
	Name() types.StrategyName
	// Applies reports whether the strategy runs for q at all.
	Applies(q Query) bool
	Search(ctx context.Context, q Query, idx *Index) ([]types.RetrievedCandidate, error)
}

// Entry binds a strategy to its weight and candidate cap.
type Entry struct {
	Strategy Strategy
	Weight   float64
	Cap      int
}

// Default weights and caps per strategy.
var (
	DefaultWeights = map[types.StrategyName]float64{
		types.StrategySemantic: 0.4,
		types.StrategyKeyword:  0.2,
		types.StrategyPattern:  0.2,
		types.StrategyEmotion:  0.1,
		types.StrategyContext:  0.1,
	}
	DefaultCaps = map[types.StrategyName]int{
		types.StrategySemantic: 20,
		types.StrategyKeyword:  10,
		types.StrategyPattern:  10,
		types.StrategyEmotion:  5,
		types.StrategyContext:  5,
	}
)

// DefaultEntries returns the five strategies in merge order.
// embedder and searcher may be nil.
func DefaultEntries(embedder Embedder, searcher VectorSearcher) []Entry {
	strategies := []Strategy{
		NewSemanticStrategy(embedder, searcher),
		KeywordStrategy{},
		PatternStrategy{},
		EmotionStrategy{},
		ContextStrategy{},
	}
	entries := make([]Entry, 0, len(strategies))
	for _, s := range strategies {
		entries = append(entries, Entry{
			Strategy: s,
			Weight:   DefaultWeights[s.Name()],
			Cap:      DefaultCaps[s.Name()],
		})
	}
	return entries
}

// guardedSearch turns a strategy panic into an error.
func guardedSearch(ctx context.Context, s Strategy, q Query, idx *Index) (candidates []types.RetrievedCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("retrieval strategy panic", "strategy", s.Name(), "error", r)
			candidates = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Search(ctx, q, idx)
}

func candidate(msg types.Message, name types.StrategyName, score float64) types.RetrievedCandidate {
	return types.RetrievedCandidate{Message: msg, Strategy: name, RawScore: score}
}
