// Package types holds the domain records shared across the engine.
package types

import (
	"errors"
	"time"
)

// Emotion is the coarse tone of a message.
type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNegative Emotion = "negative"
	EmotionNeutral  Emotion = "neutral"
)

// Emotions lists every label in reporting order.
var Emotions = []Emotion{EmotionPositive, EmotionNegative, EmotionNeutral}

// Message is one historical message of a persona.
type Message struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	// Embedding is filled lazily; every vector of a persona shares one dimension.
	Embedding []float32 `json:"-"`
	Emotion   Emotion   `json:"emotion,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
}

// MessageFilter narrows a persona message lookup. Zero values disable a
// filter; Start and End bound the timestamp inclusively.
type MessageFilter struct {
	Start            time.Time
	End              time.Time
	Limit            int
	NewestFirst      bool
	MissingEmbedding bool
}

// Role is the author of a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrTurnNotFound is returned when a transcript position does not exist.
var ErrTurnNotFound = errors.New("chat turn not found")

// ChatTurn is one entry of a live conversation with a persona.
type ChatTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
