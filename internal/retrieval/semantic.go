package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/easeaico/second-self/internal/memory"
	"github.com/easeaico/second-self/internal/types"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs a nearest-neighbour lookup in the message store.
type VectorSearcher interface {
	SearchSimilar(ctx context.Context, personaID string, embedding []float32, limit int) ([]types.ScoredMessage, error)
}

// SemanticStrategy ranks messages by cosine similarity with the query.
// Without embeddings it degrades to substring containment.
type SemanticStrategy struct {
	embedder Embedder
	searcher VectorSearcher
}

func NewSemanticStrategy(embedder Embedder, searcher VectorSearcher) *SemanticStrategy {
	return &SemanticStrategy{embedder: embedder, searcher: searcher}
}

func (s *SemanticStrategy) Name() types.StrategyName { return types.StrategySemantic }

func (s *SemanticStrategy) Applies(Query) bool { return true }

func (s *SemanticStrategy) Search(ctx context.Context, q Query, idx *Index) ([]types.RetrievedCandidate, error) {
	if s.embedder == nil || !idx.HasEmbeddings() {
		return containmentSearch(q, idx, types.StrategySemantic), nil
	}

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if s.searcher != nil {
		scored, err := s.searcher.SearchSimilar(ctx, q.PersonaID, vec, q.Limit)
		if err != nil {
			return nil, fmt.Errorf("failed to search similar messages: %w", err)
		}
		out := make([]types.RetrievedCandidate, 0, len(scored))
		for _, sm := range scored {
			if sm.Similarity <= 0 {
				continue
			}
			out = append(out, candidate(sm.Message, types.StrategySemantic, sm.Similarity))
		}
		return out, nil
	}

	out := make([]types.RetrievedCandidate, 0)
	for i := 0; i < idx.Len(); i++ {
		msg := idx.Message(i)
		if len(msg.Embedding) != len(vec) {
			continue
		}
		sim := memory.CosineSimilarity(vec, msg.Embedding)
		if sim <= 0 {
			continue
		}
		out = append(out, candidate(msg, types.StrategySemantic, sim))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawScore > out[j].RawScore
	})
	return out, nil
}

// containmentSearch scores messages by the share of query terms they contain.
func containmentSearch(q Query, idx *Index, name types.StrategyName) []types.RetrievedCandidate {
	terms := queryTerms(q.Text)
	if len(terms) == 0 {
		return nil
	}
	var out []types.RetrievedCandidate
	for i := idx.Len() - 1; i >= 0; i-- {
		matched := 0
		for _, term := range terms {
			if containsFold(idx.lowered[i], term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, candidate(idx.Message(i), name, float64(matched)/float64(len(terms))))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawScore > out[j].RawScore
	})
	return out
}
