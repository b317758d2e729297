package retrieval

import (
	"context"
	"sort"

	"github.com/easeaico/second-self/internal/types"
)

// ContextStrategy matches recent conversation turns against message content
// through the token index.
type ContextStrategy struct{}

func (ContextStrategy) Name() types.StrategyName { return types.StrategyContext }

func (ContextStrategy) Applies(q Query) bool { return len(q.Context) > 0 }

func (ContextStrategy) Search(ctx context.Context, q Query, idx *Index) ([]types.RetrievedCandidate, error) {
	terms := make(map[string]struct{})
	for _, line := range q.Context {
		for tok := range tokenSet(line) {
			terms[tok] = struct{}{}
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	hits := make(map[int]int)
	for tok := range terms {
		for _, pos := range idx.postings[tok] {
			hits[pos]++
		}
	}

	positions := make([]int, 0, len(hits))
	for pos := range hits {
		positions = append(positions, pos)
	}
	// newest first, then by share of matched terms
	sort.Sort(sort.Reverse(sort.IntSlice(positions)))

	out := make([]types.RetrievedCandidate, 0, len(positions))
	for _, pos := range positions {
		out = append(out, candidate(idx.Message(pos), types.StrategyContext, float64(hits[pos])/float64(len(terms))))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawScore > out[j].RawScore
	})
	return out, nil
}
