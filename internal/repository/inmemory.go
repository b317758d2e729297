package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/second-self/internal/types"
)

// MemoryStore keeps personas, messages and transcripts in process.
// It serves local runs and tests with the same contracts as the
// PostgreSQL repositories.
type MemoryStore struct {
	mu          sync.RWMutex
	personas    map[string]types.Persona
	messages    map[string][]types.Message
	transcripts map[string][]types.ChatTurn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		personas:    make(map[string]types.Persona),
		messages:    make(map[string][]types.Message),
		transcripts: make(map[string][]types.ChatTurn),
	}
}

func (s *MemoryStore) Get(_ context.Context, personaID string) (*types.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[personaID]
	if !ok {
		return nil, types.ErrPersonaNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Save(_ context.Context, persona *types.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[persona.ID] = *persona
	return nil
}

func (s *MemoryStore) UpdateStyleProfile(_ context.Context, personaID string, profile types.PersonaStyleProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[personaID]
	if !ok {
		return types.ErrPersonaNotFound
	}
	p.Style = profile
	p.UpdatedAt = time.Now()
	s.personas[personaID] = p
	return nil
}

func (s *MemoryStore) UpdateAnalysis(_ context.Context, personaID string, patterns types.ConversationPatterns, summary *types.PersonalitySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[personaID]
	if !ok {
		return types.ErrPersonaNotFound
	}
	p.Patterns = &patterns
	if summary != nil {
		sum := *summary
		p.Summary = &sum
	}
	p.UpdatedAt = time.Now()
	s.personas[personaID] = p
	return nil
}

// FindByPersona mirrors MessageRepo.FindByPersona ordering and bounds.
func (s *MemoryStore) FindByPersona(_ context.Context, personaID string, filter types.MessageFilter) ([]types.Message, error) {
	s.mu.RLock()
	var out []types.Message
	for _, m := range s.messages[personaID] {
		if !filter.Start.IsZero() && m.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && m.Timestamp.After(filter.End) {
			continue
		}
		if filter.MissingEmbedding && len(m.Embedding) > 0 {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.NewestFirst {
			a, b = b, a
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveEmbedding(_ context.Context, messageID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for personaID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				s.messages[personaID][i].Embedding = slices.Clone(embedding)
				return nil
			}
		}
	}
	return fmt.Errorf("failed to save embedding: message %s not found", messageID)
}

func (s *MemoryStore) InsertBatch(_ context.Context, msgs []types.Message) ([]types.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	stored := make([]types.Message, len(msgs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m = cloneMessage(m)
		s.messages[m.PersonaID] = append(s.messages[m.PersonaID], m)
		stored[i] = m
	}
	return stored, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, chatID string, turn types.ChatTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[chatID] = append(s.transcripts[chatID], turn)
	return nil
}

func (s *MemoryStore) ReplaceTurn(_ context.Context, chatID string, index int, turn types.ChatTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.transcripts[chatID]
	if index < 0 || index >= len(turns) {
		return fmt.Errorf("turn %d of chat %s: %w", index, chatID, types.ErrTurnNotFound)
	}
	turns[index] = turn
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, chatID string, limit int) ([]types.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.transcripts[chatID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

func cloneMessage(m types.Message) types.Message {
	m.Embedding = slices.Clone(m.Embedding)
	m.Keywords = slices.Clone(m.Keywords)
	return m
}
