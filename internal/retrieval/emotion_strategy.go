package retrieval

import (
	"context"

	"github.com/easeaico/second-self/internal/types"
)

// EmotionStrategy returns the most recent messages sharing the query's tone.
type EmotionStrategy struct{}

func (EmotionStrategy) Name() types.StrategyName { return types.StrategyEmotion }

func (EmotionStrategy) Applies(Query) bool { return true }

func (EmotionStrategy) Search(ctx context.Context, q Query, idx *Index) ([]types.RetrievedCandidate, error) {
	bucket := idx.emotions[q.Emotion]
	out := make([]types.RetrievedCandidate, 0, min(len(bucket), max(q.Limit, 0)))
	for i := len(bucket) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		out = append(out, candidate(idx.Message(bucket[i]), types.StrategyEmotion, 1.0))
	}
	return out, nil
}
