package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/second-self/internal/types"
)

type transcriptModel struct {
	ID        int
	ChatID    string `gorm:"index"`
	Role      string
	Content   string
	CreatedAt time.Time
}

func (transcriptModel) TableName() string {
	return "chat_transcripts"
}

// TranscriptRepo persists live chat turns.
type TranscriptRepo struct {
	db *gorm.DB
}

// NewTranscriptRepo returns a TranscriptRepo.
func NewTranscriptRepo(db *gorm.DB) *TranscriptRepo {
	return &TranscriptRepo{db: db}
}

func (r *TranscriptRepo) AppendTurn(ctx context.Context, chatID string, turn types.ChatTurn) error {
	createdAt := turn.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	record := transcriptModel{
		ChatID:    chatID,
		Role:      string(turn.Role),
		Content:   turn.Content,
		CreatedAt: createdAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert chat turn: %w", err)
	}
	return nil
}

// ReplaceTurn overwrites the turn at position index of a chat, counting
// from the oldest turn.
func (r *TranscriptRepo) ReplaceTurn(ctx context.Context, chatID string, index int, turn types.ChatTurn) error {
	if index < 0 {
		return fmt.Errorf("turn %d of chat %s: %w", index, chatID, types.ErrTurnNotFound)
	}
	var record transcriptModel
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Offset(index).
		Limit(1).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("turn %d of chat %s: %w", index, chatID, types.ErrTurnNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query chat turn: %w", err)
	}

	createdAt := turn.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if err := r.db.WithContext(ctx).
		Model(&transcriptModel{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"role":       string(turn.Role),
			"content":    turn.Content,
			"created_at": createdAt,
		}).Error; err != nil {
		return fmt.Errorf("failed to update chat turn: %w", err)
	}
	return nil
}

// Recent returns up to limit turns of a chat, oldest first. A limit of zero
// or less returns the whole chat.
func (r *TranscriptRepo) Recent(ctx context.Context, chatID string, limit int) ([]types.ChatTurn, error) {
	var records []transcriptModel
	query := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query chat transcript: %w", err)
	}

	results := make([]types.ChatTurn, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		results = append(results, types.ChatTurn{
			Role:      types.Role(records[i].Role),
			Content:   records[i].Content,
			Timestamp: records[i].CreatedAt,
		})
	}
	return results, nil
}
