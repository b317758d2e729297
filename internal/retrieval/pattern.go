package retrieval

import (
	"context"
	"sort"

	"github.com/easeaico/second-self/internal/types"
)

// PatternStrategy answers questions with the replies that followed similar
// questions in the persona's history.
type PatternStrategy struct{}

func (PatternStrategy) Name() types.StrategyName { return types.StrategyPattern }

func (PatternStrategy) Applies(q Query) bool { return q.IsQuestion }

func (PatternStrategy) Search(ctx context.Context, q Query, idx *Index) ([]types.RetrievedCandidate, error) {
	query := tokenSet(q.Text)
	if len(query) == 0 {
		return nil, nil
	}

	var out []types.RetrievedCandidate
	for _, p := range idx.patterns {
		score := jaccard(query, p.tokens)
		if score <= 0 {
			continue
		}
		out = append(out, candidate(idx.Message(p.response), types.StrategyPattern, score))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawScore > out[j].RawScore
	})
	return out, nil
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
