package style

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/prompt"
	"github.com/easeaico/second-self/internal/types"
	"github.com/easeaico/second-self/internal/utils"
)

const (
	summarySampleSize  = 50
	summaryTemperature = 0.3
)

// FallbackSummary is attached when the model cannot produce a summary.
var FallbackSummary = types.PersonalitySummary{
	Style:     "unknown",
	Keywords:  []string{},
	Emotion:   "neutral",
	Topics:    []string{},
	AvgLength: "medium",
}

var summarySchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"style":      {Type: "string", Description: "one sentence on how the person writes"},
		"keywords":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"emotion":    {Type: "string", Description: "dominant emotional tendency"},
		"topics":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"avg_length": {Type: "string", Enum: []any{"short", "medium", "long"}},
	},
	Required: []string{"style", "keywords", "emotion", "topics", "avg_length"},
}

// Summarizer asks a model to describe a persona's personality.
type Summarizer struct {
	llm model.LLM
}

func NewSummarizer(llm model.LLM) *Summarizer {
	return &Summarizer{llm: llm}
}

// Summarize returns FallbackSummary together with the error on failure.
func (s *Summarizer) Summarize(ctx context.Context, name string, messages []types.Message) (types.PersonalitySummary, error) {
	if s == nil || s.llm == nil {
		return FallbackSummary, fmt.Errorf("summarizer not configured")
	}
	if len(messages) == 0 {
		return FallbackSummary, nil
	}

	start := 0
	if len(messages) > summarySampleSize {
		start = len(messages) - summarySampleSize
	}
	samples := make([]string, 0, len(messages)-start)
	for _, m := range messages[start:] {
		if text := strings.TrimSpace(m.Content); text != "" {
			samples = append(samples, text)
		}
	}

	instruction, err := prompt.BuildSummaryInstruction(name, samples)
	if err != nil {
		return FallbackSummary, err
	}

	temp := float32(summaryTemperature)
	req := &model.LLMRequest{
		Model:    s.llm.Name(),
		Contents: []*genai.Content{genai.NewContentFromText(instruction, genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			Temperature:        &temp,
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: summarySchema,
		},
	}

	var sb strings.Builder
	for resp, err := range s.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			slog.Warn("failed to summarize personality", "persona", name, "error", err.Error())
			return FallbackSummary, fmt.Errorf("failed to summarize personality: %w", err)
		}
		if resp != nil {
			sb.WriteString(utils.ExtractContentText(resp.Content))
		}
	}

	var summary types.PersonalitySummary
	if err := utils.ParseJSONObject(sb.String(), &summary); err != nil {
		slog.Warn("failed to parse personality summary", "persona", name, "error", err.Error())
		return FallbackSummary, err
	}
	if summary.Style == "" {
		summary.Style = FallbackSummary.Style
	}
	if summary.Emotion == "" {
		summary.Emotion = FallbackSummary.Emotion
	}
	if summary.AvgLength == "" {
		summary.AvgLength = FallbackSummary.AvgLength
	}
	return summary, nil
}
