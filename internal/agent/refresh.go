package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/easeaico/second-self/internal/types"
	"github.com/easeaico/second-self/internal/utils"
)

const (
	systemSender    = "system"
	messageKeywords = 5
)

// IngestResult reports what an ingest stored.
type IngestResult struct {
	PersonaID      string
	Inserted       int
	Skipped        int
	MockEmbeddings bool
}

// RefreshPersonaStyle recomputes a persona's style profile and conversation
// patterns from its latest messages, then swaps in a rebuilt retrieval index.
func (e *Engine) RefreshPersonaStyle(ctx context.Context, personaID string) (types.PersonaStyleProfile, error) {
	persona, err := e.deps.Personas.Get(ctx, personaID)
	if err != nil {
		return types.PersonaStyleProfile{}, err
	}

	msgs, err := e.deps.Messages.FindByPersona(ctx, personaID, types.MessageFilter{
		Limit:       e.opts.StyleSampleSize,
		NewestFirst: true,
	})
	if err != nil {
		return types.PersonaStyleProfile{}, fmt.Errorf("failed to load persona messages: %w", err)
	}
	slices.Reverse(msgs)

	profile := e.deps.Profiler.Profile(personaID, msgs)
	if err := e.deps.Personas.UpdateStyleProfile(ctx, personaID, profile); err != nil {
		return types.PersonaStyleProfile{}, fmt.Errorf("failed to update style profile: %w", err)
	}

	patterns := e.deps.Analyzer.Analyze(msgs, 0)
	var summary *types.PersonalitySummary
	if e.deps.Summarizer != nil && len(msgs) > 0 {
		s, err := e.deps.Summarizer.Summarize(ctx, persona.Name, msgs)
		if err != nil {
			slog.Warn("personality summary unavailable, using fallback", "persona", personaID, "error", err.Error())
		}
		summary = &s
	}
	if err := e.deps.Personas.UpdateAnalysis(ctx, personaID, patterns, summary); err != nil {
		return types.PersonaStyleProfile{}, fmt.Errorf("failed to update conversation patterns: %w", err)
	}

	e.rebuildIndex(ctx, personaID)
	slog.Info("persona style refreshed", "persona", personaID, "messages", len(msgs))
	return profile, nil
}

// Ingest cleans and stores messages for a persona, embedding them in batch,
// and refreshes the persona's style. An unknown persona is created, named
// after name or, when name is empty, the second most frequent sender.
func (e *Engine) Ingest(ctx context.Context, personaID, name string, msgs []types.Message) (IngestResult, error) {
	result := IngestResult{PersonaID: personaID}
	cleaned := e.cleanMessages(personaID, msgs)
	result.Skipped = len(msgs) - len(cleaned)
	if len(cleaned) == 0 {
		return result, nil
	}

	persona, err := e.deps.Personas.Get(ctx, personaID)
	switch {
	case errors.Is(err, types.ErrPersonaNotFound):
		if name == "" {
			name = inferPersonaName(cleaned)
		}
		persona = &types.Persona{ID: personaID, Name: name, CreatedAt: time.Now()}
	case err != nil:
		return result, fmt.Errorf("failed to load persona: %w", err)
	}

	texts := make([]string, len(cleaned))
	for i, m := range cleaned {
		texts[i] = m.Content
	}
	vectors, err := e.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return result, fmt.Errorf("failed to embed messages: %w", err)
	}
	result.MockEmbeddings = e.deps.Embedder.MockMode()
	for i := range cleaned {
		cleaned[i].Embedding = vectors[i]
	}

	stored, err := e.deps.Messages.InsertBatch(ctx, cleaned)
	if err != nil {
		return result, err
	}
	result.Inserted = len(stored)

	persona.MessageCount += len(stored)
	for _, m := range stored {
		if persona.DateRangeStart.IsZero() || m.Timestamp.Before(persona.DateRangeStart) {
			persona.DateRangeStart = m.Timestamp
		}
		if m.Timestamp.After(persona.DateRangeEnd) {
			persona.DateRangeEnd = m.Timestamp
		}
	}
	persona.UpdatedAt = time.Now()
	if err := e.deps.Personas.Save(ctx, persona); err != nil {
		return result, fmt.Errorf("failed to save persona: %w", err)
	}

	if _, err := e.RefreshPersonaStyle(ctx, personaID); err != nil {
		return result, err
	}
	slog.Info("messages ingested", "persona", personaID, "inserted", result.Inserted, "skipped", result.Skipped, "mock_embeddings", result.MockEmbeddings)
	return result, nil
}

// BackfillEmbeddings embeds messages stored without a vector, batchSize at a
// time, and returns how many were filled.
func (e *Engine) BackfillEmbeddings(ctx context.Context, personaID string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	filled := 0
	for {
		pending, err := e.deps.Messages.FindByPersona(ctx, personaID, types.MessageFilter{
			Limit:            batchSize,
			MissingEmbedding: true,
		})
		if err != nil {
			return filled, fmt.Errorf("failed to load messages without embeddings: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		texts := make([]string, len(pending))
		for i, m := range pending {
			texts[i] = m.Content
		}
		vectors, err := e.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return filled, fmt.Errorf("failed to embed messages: %w", err)
		}
		for i, m := range pending {
			if err := e.deps.Messages.SaveEmbedding(ctx, m.ID, vectors[i]); err != nil {
				return filled, err
			}
			filled++
		}
		slog.Info("embeddings backfilled", "persona", personaID, "batch", len(pending), "total", filled)
		if len(pending) < batchSize {
			break
		}
	}
	if filled > 0 {
		e.rebuildIndex(ctx, personaID)
	}
	return filled, nil
}

func (e *Engine) rebuildIndex(ctx context.Context, personaID string) {
	indexes := e.deps.Retriever.Indexes()
	if _, err := indexes.Rebuild(ctx, personaID); err != nil {
		slog.Warn("failed to rebuild retrieval index", "persona", personaID, "error", err.Error())
		indexes.Invalidate(personaID)
	}
}

// cleanMessages drops blank and system messages and fills derived fields.
func (e *Engine) cleanMessages(personaID string, msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		m.Content = strings.TrimSpace(m.Content)
		m.Sender = strings.TrimSpace(m.Sender)
		if m.Content == "" || strings.EqualFold(m.Sender, systemSender) {
			continue
		}
		m.PersonaID = personaID
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		if m.Emotion == "" {
			m.Emotion = e.deps.Lexicon.Classify(m.Content)
		}
		if len(m.Keywords) == 0 {
			m.Keywords = keywords(m.Content, messageKeywords)
		}
		out = append(out, m)
	}
	return out
}

// inferPersonaName picks the second most frequent sender; the most frequent
// is usually the owner of the export. A single sender names the persona.
func inferPersonaName(msgs []types.Message) string {
	counts := make(map[string]int)
	for _, m := range msgs {
		counts[m.Sender]++
	}
	senders := make([]string, 0, len(counts))
	for s := range counts {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool {
		if counts[senders[i]] != counts[senders[j]] {
			return counts[senders[i]] > counts[senders[j]]
		}
		return senders[i] < senders[j]
	})
	switch len(senders) {
	case 0:
		return ""
	case 1:
		return senders[0]
	default:
		return senders[1]
	}
}

func keywords(content string, n int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range utils.Tokenize(content) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == n {
			break
		}
	}
	return out
}
