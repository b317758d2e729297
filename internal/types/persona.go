package types

import (
	"errors"
	"time"
)

// ErrPersonaNotFound is returned when a persona id does not resolve.
var ErrPersonaNotFound = errors.New("persona not found")

// Persona is a simulated identity derived from one contact's history.
type Persona struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MessageCount   int       `json:"message_count"`
	DateRangeStart time.Time `json:"date_range_start"`
	DateRangeEnd   time.Time `json:"date_range_end"`
	// StyleFeatures are named traits scored in [0,1].
	StyleFeatures map[string]float64    `json:"style_features,omitempty"`
	Style         PersonaStyleProfile   `json:"style"`
	Patterns      *ConversationPatterns `json:"patterns,omitempty"`
	Summary       *PersonalitySummary   `json:"summary,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// PersonaStyleProfile aggregates writing statistics of a persona.
// It is derived from messages and never edited by hand.
type PersonaStyleProfile struct {
	PersonaID string `json:"persona_id"`
	// Empty marks a profile computed from no messages; other fields are zero.
	Empty                 bool                `json:"empty"`
	MessageCount          int                 `json:"message_count"`
	AvgMessageLength      float64             `json:"avg_message_length"`
	EmojiProfile          map[string]int      `json:"emoji_profile"`
	SentencePatterns      map[string]int      `json:"sentence_patterns"`
	FrequentWords         []string            `json:"frequent_words"`
	EmotionalDistribution map[Emotion]float64 `json:"emotional_distribution"`
	PeakActivityHour      int                 `json:"peak_activity_hour"`
}

// ConversationPatterns is the descriptive output of a conversation analysis.
type ConversationPatterns struct {
	ResponsePatterns  ResponsePatterns    `json:"response_patterns"`
	TopicTransitions  []string            `json:"topic_transitions"`
	EmotionalPatterns map[Emotion]float64 `json:"emotional_patterns"`
	TimePatterns      TimePatterns        `json:"time_patterns"`
}

// ResponsePatterns describes message length and reply latency.
type ResponsePatterns struct {
	AverageMessageLength       float64 `json:"average_message_length"`
	AverageResponseTimeSeconds float64 `json:"average_response_time_seconds"`
	MessageCount               int     `json:"message_count"`
}

// TimePatterns describes when a persona is active.
type TimePatterns struct {
	// PeakHour is -1 when there were no messages.
	PeakHour           int         `json:"peak_hour"`
	PeakActivityPeriod string      `json:"peak_activity_period"`
	HourDistribution   map[int]int `json:"hour_distribution"`
}

// PersonalitySummary is the model-produced description of a persona.
type PersonalitySummary struct {
	Style     string   `json:"style"`
	Keywords  []string `json:"keywords"`
	Emotion   string   `json:"emotion"`
	Topics    []string `json:"topics"`
	AvgLength string   `json:"avg_length"`
}
