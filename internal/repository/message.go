package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/easeaico/second-self/internal/types"
)

const insertBatchSize = 500

// messageModel maps to the messages table.
type messageModel struct {
	ID        string `gorm:"primaryKey"`
	PersonaID string `gorm:"index:idx_messages_persona_ts,priority:1"`
	Content   string
	Sender    string
	Timestamp time.Time `gorm:"index:idx_messages_persona_ts,priority:2"`
	Emotion   string
	// Keywords are stored as JSONB.
	Keywords  json.RawMessage  `gorm:"type:jsonb"`
	Embedding *pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time
}

func (messageModel) TableName() string {
	return "messages"
}

// MessageRepo accesses persona messages.
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo returns a MessageRepo.
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// FindByPersona lists messages oldest first unless filter.NewestFirst is set.
// Both Start and End are inclusive.
func (r *MessageRepo) FindByPersona(ctx context.Context, personaID string, filter types.MessageFilter) ([]types.Message, error) {
	query := r.db.WithContext(ctx).Where("persona_id = ?", personaID)
	if !filter.Start.IsZero() {
		query = query.Where("timestamp >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		query = query.Where("timestamp <= ?", filter.End)
	}
	if filter.MissingEmbedding {
		query = query.Where("embedding IS NULL")
	}
	if filter.NewestFirst {
		query = query.Order("timestamp DESC").Order("id DESC")
	} else {
		query = query.Order("timestamp ASC").Order("id ASC")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []messageModel
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	return results, nil
}

func (r *MessageRepo) SaveEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	result := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("id = ?", messageID).
		Update("embedding", pgvector.NewVector(embedding))
	if result.Error != nil {
		return fmt.Errorf("failed to save embedding: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to save embedding: message %s not found", messageID)
	}
	return nil
}

// InsertBatch stores messages, assigning ids to those without one.
func (r *MessageRepo) InsertBatch(ctx context.Context, msgs []types.Message) ([]types.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	stored := make([]types.Message, len(msgs))
	records := make([]messageModel, len(msgs))
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		record, err := messageToModel(msg)
		if err != nil {
			return nil, err
		}
		stored[i] = msg
		records[i] = record
	}
	if err := r.db.WithContext(ctx).CreateInBatches(records, insertBatchSize).Error; err != nil {
		return nil, fmt.Errorf("failed to insert messages: %w", err)
	}
	return stored, nil
}

type scoredMessageRow struct {
	messageModel `gorm:"embedded"`
	Similarity   float64
}

// SearchSimilar returns the persona's nearest messages by cosine distance.
func (r *MessageRepo) SearchSimilar(ctx context.Context, personaID string, embedding []float32, limit int) ([]types.ScoredMessage, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	vector := pgvector.NewVector(embedding)

	var rows []scoredMessageRow
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, persona_id, content, sender, timestamp, emotion, keywords, embedding, created_at,
		       1 - (embedding <=> ?) AS similarity
		FROM messages
		WHERE persona_id = ? AND embedding IS NOT NULL
		ORDER BY embedding <=> ?
		LIMIT ?`, vector, personaID, vector, limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar messages: %w", err)
	}

	results := make([]types.ScoredMessage, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.ScoredMessage{
			Message:    messageFromModel(row.messageModel),
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

func messageToModel(msg types.Message) (messageModel, error) {
	keywords, err := marshalJSON(msg.Keywords)
	if err != nil {
		return messageModel{}, fmt.Errorf("failed to encode message keywords: %w", err)
	}
	var vector *pgvector.Vector
	if len(msg.Embedding) > 0 {
		v := pgvector.NewVector(msg.Embedding)
		vector = &v
	}
	return messageModel{
		ID:        msg.ID,
		PersonaID: msg.PersonaID,
		Content:   msg.Content,
		Sender:    msg.Sender,
		Timestamp: msg.Timestamp,
		Emotion:   string(msg.Emotion),
		Keywords:  keywords,
		Embedding: vector,
	}, nil
}

// messageFromModel converts database model to domain struct.
func messageFromModel(model messageModel) types.Message {
	var keywords []string
	_ = unmarshalJSON(model.Keywords, &keywords)
	var embedding []float32
	if model.Embedding != nil {
		embedding = model.Embedding.Slice()
	}
	return types.Message{
		ID:        model.ID,
		PersonaID: model.PersonaID,
		Content:   model.Content,
		Sender:    model.Sender,
		Timestamp: model.Timestamp,
		Embedding: embedding,
		Emotion:   types.Emotion(model.Emotion),
		Keywords:  keywords,
	}
}

// marshalJSON encodes a value into JSONB, returning nil for empty values.
func marshalJSON(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// unmarshalJSON decodes JSONB into the provided target.
func unmarshalJSON(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
