package retrieval

import (
	"sort"

	"github.com/easeaico/second-self/internal/types"
)

// DefaultTopK bounds results when the caller passes no positive top k.
const DefaultTopK = 10

var strategyOrder = []types.StrategyName{
	types.StrategySemantic,
	types.StrategyKeyword,
	types.StrategyPattern,
	types.StrategyEmotion,
	types.StrategyContext,
}

// Reranker merges candidates from all strategies into one ranked list.
type Reranker struct {
	weights map[types.StrategyName]float64
}

// NewReranker copies weights; a nil map selects DefaultWeights.
func NewReranker(weights map[types.StrategyName]float64) *Reranker {
	if weights == nil {
		weights = DefaultWeights
	}
	w := make(map[types.StrategyName]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Reranker{weights: w}
}

type group struct {
	msg  types.Message
	best map[types.StrategyName]float64
}

// Rerank groups candidates by message identity and scores each message as
// the sum of raw score times weight over the strategies that proposed it.
// A strategy proposing one message twice counts once, with its best score.
func (r *Reranker) Rerank(candidates []types.RetrievedCandidate, topK int) []types.RankedResult {
	if topK <= 0 {
		topK = DefaultTopK
	}

	groups := make(map[string]*group)
	keys := make([]string, 0)
	for _, c := range candidates {
		key := messageKey(c.Message)
		g, ok := groups[key]
		if !ok {
			g = &group{msg: c.Message, best: make(map[types.StrategyName]float64)}
			groups[key] = g
			keys = append(keys, key)
		}
		if prev, seen := g.best[c.Strategy]; !seen || c.RawScore > prev {
			g.best[c.Strategy] = c.RawScore
		}
	}

	results := make([]types.RankedResult, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		res := types.RankedResult{Message: g.msg}
		for _, name := range r.order(g.best) {
			res.CombinedScore += g.best[name] * r.weights[name]
			res.Strategies = append(res.Strategies, name)
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if !a.Message.Timestamp.Equal(b.Message.Timestamp) {
			return a.Message.Timestamp.After(b.Message.Timestamp)
		}
		if a.Message.ID != b.Message.ID {
			return a.Message.ID < b.Message.ID
		}
		return a.Message.Content < b.Message.Content
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// order lists the strategies of best in canonical order, unknown names last.
func (r *Reranker) order(best map[types.StrategyName]float64) []types.StrategyName {
	names := make([]types.StrategyName, 0, len(best))
	for _, name := range strategyOrder {
		if _, ok := best[name]; ok {
			names = append(names, name)
		}
	}
	if len(names) == len(best) {
		return names
	}
	var extra []types.StrategyName
	for name := range best {
		if _, known := DefaultWeights[name]; !known {
			extra = append(extra, name)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(names, extra...)
}

func messageKey(msg types.Message) string {
	if msg.ID != "" {
		return "id:" + msg.ID
	}
	return "content:" + msg.PersonaID + "\x00" + msg.Content
}
