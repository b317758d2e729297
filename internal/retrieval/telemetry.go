package retrieval

import (
	"time"

	"github.com/easeaico/second-self/internal/types"
)

// Telemetry observes retrieval health. Implementations must be safe for
// concurrent use.
type Telemetry interface {
	StrategyFailed(personaID string, strategy types.StrategyName, err error)
	QueryDegraded(personaID string, failed []types.StrategyName)
	RetrievalCompleted(personaID string, results int, elapsed time.Duration)
}

// NopTelemetry discards every event.
type NopTelemetry struct{}

func (NopTelemetry) StrategyFailed(string, types.StrategyName, error) {}
func (NopTelemetry) QueryDegraded(string, []types.StrategyName) {}
func (NopTelemetry) RetrievalCompleted(string, int, time.Duration) {}
