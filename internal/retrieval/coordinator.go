package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/types"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("empty query")

// Coordinator runs every applicable strategy for a query and reranks the
// merged candidates.
type Coordinator struct {
	indexes   *IndexCache
	lexicon   emotion.Lexicon
	entries   []Entry
	reranker  *Reranker
	telemetry Telemetry
}

// NewCoordinator returns a Coordinator. Entries are merged in the given order.
func NewCoordinator(indexes *IndexCache, lex emotion.Lexicon, entries []Entry, telemetry Telemetry) *Coordinator {
	weights := make(map[types.StrategyName]float64, len(entries))
	for _, e := range entries {
		weights[e.Strategy.Name()] = e.Weight
	}
	if telemetry == nil {
		telemetry = NopTelemetry{}
	}
	return &Coordinator{
		indexes:   indexes,
		lexicon:   lex,
		entries:   entries,
		reranker:  NewReranker(weights),
		telemetry: telemetry,
	}
}

// Indexes exposes the index cache for refreshes.
func (c *Coordinator) Indexes() *IndexCache {
	return c.indexes
}

type strategyResult struct {
	candidates []types.RetrievedCandidate
	err        error
	ran        bool
}

// Retrieve returns at most topK ranked messages of a persona for query.
// Strategy failures never surface as errors: the query degrades to keyword
// results and the failure is reported to telemetry.
func (c *Coordinator) Retrieve(ctx context.Context, query, personaID string, recent []string, topK int) ([]types.RankedResult, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	idx, err := c.indexes.Get(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load retrieval index: %w", err)
	}

	q := Query{
		Text:       query,
		PersonaID:  personaID,
		Context:    recent,
		Emotion:    c.lexicon.Classify(query),
		IsQuestion: c.lexicon.IsQuestion(query),
	}

	results := make([]strategyResult, len(c.entries))
	var g errgroup.Group
	for i, e := range c.entries {
		if !e.Strategy.Applies(q) {
			continue
		}
		sq := q
		sq.Limit = e.Cap
		g.Go(func() error {
			candidates, err := guardedSearch(ctx, e.Strategy, sq, idx)
			if err == nil && e.Cap > 0 && len(candidates) > e.Cap {
				candidates = candidates[:e.Cap]
			}
			results[i] = strategyResult{candidates: candidates, err: err, ran: true}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieval cancelled: %w", err)
	}

	var failed []types.StrategyName
	for i, res := range results {
		if res.err == nil {
			continue
		}
		name := c.entries[i].Strategy.Name()
		failed = append(failed, name)
		slog.Warn("retrieval strategy failed", "persona_id", personaID, "strategy", name, "error", res.err.Error())
		c.telemetry.StrategyFailed(personaID, name, res.err)
	}

	var merged []types.RetrievedCandidate
	for i, res := range results {
		if !res.ran || res.err != nil {
			continue
		}
		if len(failed) > 0 && c.entries[i].Strategy.Name() != types.StrategyKeyword {
			continue
		}
		merged = append(merged, res.candidates...)
	}
	if len(failed) > 0 {
		slog.Warn("retrieval degraded to keyword results", "persona_id", personaID, "failed", failed)
		c.telemetry.QueryDegraded(personaID, failed)
	}

	ranked := c.reranker.Rerank(merged, topK)
	c.telemetry.RetrievalCompleted(personaID, len(ranked), time.Since(start))
	return ranked, nil
}
