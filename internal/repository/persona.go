package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/second-self/internal/types"
)

// personaModel maps to the personas table. Derived statistics live in JSONB.
type personaModel struct {
	ID             string `gorm:"primaryKey"`
	Name           string
	MessageCount   int
	DateRangeStart time.Time
	DateRangeEnd   time.Time
	StyleFeatures  json.RawMessage `gorm:"type:jsonb"`
	Style          json.RawMessage `gorm:"type:jsonb"`
	Patterns       json.RawMessage `gorm:"type:jsonb"`
	Summary        json.RawMessage `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (personaModel) TableName() string {
	return "personas"
}

// PersonaRepo accesses personas.
type PersonaRepo struct {
	db *gorm.DB
}

// NewPersonaRepo returns a PersonaRepo.
func NewPersonaRepo(db *gorm.DB) *PersonaRepo {
	return &PersonaRepo{db: db}
}

// Get fetches a persona, returning types.ErrPersonaNotFound when missing.
func (r *PersonaRepo) Get(ctx context.Context, personaID string) (*types.Persona, error) {
	var record personaModel
	err := r.db.WithContext(ctx).Where("id = ?", personaID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrPersonaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	return personaFromModel(record)
}

// Save inserts or fully replaces a persona.
func (r *PersonaRepo) Save(ctx context.Context, persona *types.Persona) error {
	record, err := personaToModel(persona)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save persona: %w", err)
	}
	return nil
}

func (r *PersonaRepo) UpdateStyleProfile(ctx context.Context, personaID string, profile types.PersonaStyleProfile) error {
	raw, err := marshalJSON(profile)
	if err != nil {
		return fmt.Errorf("failed to encode style profile: %w", err)
	}
	return r.update(ctx, personaID, map[string]any{"style": raw})
}

// UpdateAnalysis stores conversation patterns and, when non-nil, the summary.
func (r *PersonaRepo) UpdateAnalysis(ctx context.Context, personaID string, patterns types.ConversationPatterns, summary *types.PersonalitySummary) error {
	columns := make(map[string]any, 2)
	raw, err := marshalJSON(patterns)
	if err != nil {
		return fmt.Errorf("failed to encode conversation patterns: %w", err)
	}
	columns["patterns"] = raw
	if summary != nil {
		if raw, err = marshalJSON(summary); err != nil {
			return fmt.Errorf("failed to encode personality summary: %w", err)
		}
		columns["summary"] = raw
	}
	return r.update(ctx, personaID, columns)
}

func (r *PersonaRepo) update(ctx context.Context, personaID string, columns map[string]any) error {
	columns["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).
		Model(&personaModel{}).
		Where("id = ?", personaID).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("failed to update persona: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return types.ErrPersonaNotFound
	}
	return nil
}

func personaToModel(p *types.Persona) (personaModel, error) {
	features, err := marshalJSON(p.StyleFeatures)
	if err != nil {
		return personaModel{}, fmt.Errorf("failed to encode style features: %w", err)
	}
	style, err := marshalJSON(p.Style)
	if err != nil {
		return personaModel{}, fmt.Errorf("failed to encode style profile: %w", err)
	}
	patterns, err := marshalJSON(p.Patterns)
	if err != nil {
		return personaModel{}, fmt.Errorf("failed to encode conversation patterns: %w", err)
	}
	summary, err := marshalJSON(p.Summary)
	if err != nil {
		return personaModel{}, fmt.Errorf("failed to encode personality summary: %w", err)
	}
	return personaModel{
		ID:             p.ID,
		Name:           p.Name,
		MessageCount:   p.MessageCount,
		DateRangeStart: p.DateRangeStart,
		DateRangeEnd:   p.DateRangeEnd,
		StyleFeatures:  features,
		Style:          style,
		Patterns:       patterns,
		Summary:        summary,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}, nil
}

func personaFromModel(model personaModel) (*types.Persona, error) {
	p := &types.Persona{
		ID:             model.ID,
		Name:           model.Name,
		MessageCount:   model.MessageCount,
		DateRangeStart: model.DateRangeStart,
		DateRangeEnd:   model.DateRangeEnd,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
	if err := unmarshalJSON(model.StyleFeatures, &p.StyleFeatures); err != nil {
		return nil, fmt.Errorf("failed to decode style features: %w", err)
	}
	if err := unmarshalJSON(model.Style, &p.Style); err != nil {
		return nil, fmt.Errorf("failed to decode style profile: %w", err)
	}
	if len(model.Patterns) > 0 {
		p.Patterns = &types.ConversationPatterns{}
		if err := unmarshalJSON(model.Patterns, p.Patterns); err != nil {
			return nil, fmt.Errorf("failed to decode conversation patterns: %w", err)
		}
	}
	if len(model.Summary) > 0 {
		p.Summary = &types.PersonalitySummary{}
		if err := unmarshalJSON(model.Summary, p.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode personality summary: %w", err)
		}
	}
	return p, nil
}
