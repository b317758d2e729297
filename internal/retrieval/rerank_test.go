package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/second-self/internal/types"
)

func msg(id, content string, at time.Time) types.Message {
	return types.Message{ID: id, PersonaID: "p1", Content: content, Sender: "alice", Timestamp: at}
}

func TestRerankWeightConservation(t *testing.T) {
	now := time.Now()
	a := msg("a", "alpha", now)
	b := msg("b", "beta", now.Add(-time.Minute))

	candidates := []types.RetrievedCandidate{
		{Message: a, Strategy: types.StrategySemantic, RawScore: 0.9},
		{Message: a, Strategy: types.StrategyKeyword, RawScore: 0.5},
		{Message: a, Strategy: types.StrategyEmotion, RawScore: 1.0},
		{Message: b, Strategy: types.StrategyKeyword, RawScore: 1.0},
	}

	results := NewReranker(nil).Rerank(candidates, 10)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Message.ID)
	assert.InDelta(t, 0.9*0.4+0.5*0.2+1.0*0.1, results[0].CombinedScore, 1e-9)
	assert.Equal(t, []types.StrategyName{types.StrategySemantic, types.StrategyKeyword, types.StrategyEmotion}, results[0].Strategies)

	assert.Equal(t, "b", results[1].Message.ID)
	assert.InDelta(t, 0.2, results[1].CombinedScore, 1e-9)
	assert.Equal(t, []types.StrategyName{types.StrategyKeyword}, results[1].Strategies)
}

func TestRerankCountsStrategyOncePerMessage(t *testing.T) {
	a := msg("a", "alpha", time.Now())
	candidates := []types.RetrievedCandidate{
		{Message: a, Strategy: types.StrategyKeyword, RawScore: 0.5},
		{Message: a, Strategy: types.StrategyKeyword, RawScore: 0.8},
		{Message: a, Strategy: types.StrategyKeyword, RawScore: 0.3},
	}

	results := NewReranker(nil).Rerank(candidates, 10)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.8*0.2, results[0].CombinedScore, 1e-9)
}

func TestRerankGroupsByContentWithoutID(t *testing.T) {
	now := time.Now()
	a := types.Message{PersonaID: "p1", Content: "same", Timestamp: now}
	b := types.Message{PersonaID: "p1", Content: "same", Timestamp: now}
	c := types.Message{PersonaID: "p2", Content: "same", Timestamp: now}

	results := NewReranker(nil).Rerank([]types.RetrievedCandidate{
		{Message: a, Strategy: types.StrategySemantic, RawScore: 1},
		{Message: b, Strategy: types.StrategyContext, RawScore: 1},
		{Message: c, Strategy: types.StrategyKeyword, RawScore: 1},
	}, 10)

	require.Len(t, results, 2)
	assert.InDelta(t, 0.5, results[0].CombinedScore, 1e-9)
}

func TestRerankTopKAndOrdering(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var candidates []types.RetrievedCandidate
	for i := 0; i < 25; i++ {
		m := msg(string(rune('a'+i)), "m", base.Add(time.Duration(i)*time.Minute))
		candidates = append(candidates, types.RetrievedCandidate{
			Message:  m,
			Strategy: types.StrategyKeyword,
			RawScore: float64(i%5) / 5,
		})
	}

	results := NewReranker(nil).Rerank(candidates, 7)
	require.Len(t, results, 7)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].CombinedScore, results[i].CombinedScore)
		if results[i-1].CombinedScore == results[i].CombinedScore {
			assert.True(t, results[i-1].Message.Timestamp.After(results[i].Message.Timestamp))
		}
	}

	assert.Len(t, NewReranker(nil).Rerank(candidates, 0), DefaultTopK)
}

func TestRerankTieBreaksByNewest(t *testing.T) {
	now := time.Now()
	older := msg("x", "old", now.Add(-time.Hour))
	newer := msg("y", "new", now)

	results := NewReranker(nil).Rerank([]types.RetrievedCandidate{
		{Message: older, Strategy: types.StrategyEmotion, RawScore: 1},
		{Message: newer, Strategy: types.StrategyEmotion, RawScore: 1},
	}, 10)

	require.Len(t, results, 2)
	assert.Equal(t, "y", results[0].Message.ID)
}
