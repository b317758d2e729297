package types

// StrategyName identifies a retrieval strategy.
type StrategyName string

const (
	StrategySemantic StrategyName = "semantic"
	StrategyKeyword  StrategyName = "keyword"
	StrategyPattern  StrategyName = "pattern"
	StrategyEmotion  StrategyName = "emotion"
	StrategyContext  StrategyName = "context"
)

// RetrievedCandidate is a single strategy's proposal for a query.
type RetrievedCandidate struct {
	Message  Message      `json:"message"`
	Strategy StrategyName `json:"strategy"`
	RawScore float64      `json:"raw_score"`
}

// RankedResult is a deduplicated, weighted retrieval result.
type RankedResult struct {
	Message       Message        `json:"message"`
	CombinedScore float64        `json:"combined_score"`
	Strategies    []StrategyName `json:"contributing_strategies"`
}

// GenerationRequest is everything one turn needs to produce a reply.
type GenerationRequest struct {
	PersonaID   string         `json:"persona_id"`
	UserInput   string         `json:"user_input"`
	ChatHistory []ChatTurn     `json:"chat_history"`
	Retrieved   []RankedResult `json:"retrieved"`
}

// ScoredMessage is a message with a vector similarity in [-1,1].
type ScoredMessage struct {
	Message    Message `json:"message"`
	Similarity float64 `json:"similarity"`
}
