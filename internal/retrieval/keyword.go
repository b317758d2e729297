package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/easeaico/second-self/internal/types"
)

// KeywordStrategy matches query terms case-insensitively against message
// content or sender. The score is the share of terms matched.
type KeywordStrategy struct{}

func (KeywordStrategy) Name() types.StrategyName { return types.StrategyKeyword }

func (KeywordStrategy) Applies(Query) bool { return true }

func (KeywordStrategy) Search(ctx context.Context, q Query, idx *Index) ([]types.RetrievedCandidate, error) {
	terms := queryTerms(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	var out []types.RetrievedCandidate
	for i := idx.Len() - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matched := 0
		for _, term := range terms {
			if containsFold(idx.lowered[i], term) || containsFold(idx.senders[i], term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, candidate(idx.Message(i), types.StrategyKeyword, float64(matched)/float64(len(terms))))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawScore > out[j].RawScore
	})
	return out, nil
}

// containsFold expects both sides lowercased already.
func containsFold(lowered, term string) bool {
	return term != "" && strings.Contains(lowered, term)
}
