// Package prompt assembles persona-conditioned chat prompts.
package prompt

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"

	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/types"
)

const (
	veryEvidentThreshold     = 0.7
	somewhatEvidentThreshold = 0.4
	frequentEmojiEntries     = 5
	listedItems              = 5
)

var funcs = template.FuncMap{
	"join": strings.Join,
}

// BuildContext contains all inputs for prompt assembly.
type BuildContext struct {
	Persona *types.Persona
	// Profile overrides Persona.Style when set.
	Profile   *types.PersonaStyleProfile
	Retrieved []types.RankedResult
	History   []types.ChatTurn
	UserInput string
}

// Prompt is an assembled request. Messages ends with the user turn.
type Prompt struct {
	System   string
	Context  string
	Messages []types.ChatTurn
}

// Builder assembles prompts. It performs no I/O.
type Builder struct {
	historyLimit int
	contextLimit int
}

// NewBuilder creates a prompt Builder.
func NewBuilder(historyLimit, contextLimit int) *Builder {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	if contextLimit <= 0 {
		contextLimit = 5
	}
	return &Builder{
		historyLimit: historyLimit,
		contextLimit: contextLimit,
	}
}

type trait struct {
	Name  string
	Level string
}

// Build renders the system prompt, the context block and the message list.
func (b *Builder) Build(ctx BuildContext) (Prompt, error) {
	if ctx.Persona == nil {
		return Prompt{}, fmt.Errorf("persona is required")
	}
	profile := ctx.Persona.Style
	if ctx.Profile != nil {
		profile = *ctx.Profile
	}

	system, err := b.renderSystem(ctx.Persona, profile)
	if err != nil {
		return Prompt{}, err
	}
	contextBlock, err := b.renderContext(ctx.Persona.Name, ctx.Retrieved)
	if err != nil {
		return Prompt{}, err
	}

	history := ctx.History
	if len(history) > b.historyLimit {
		history = history[len(history)-b.historyLimit:]
	}
	messages := make([]types.ChatTurn, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, types.ChatTurn{Role: types.RoleUser, Content: ctx.UserInput})

	return Prompt{System: system, Context: contextBlock, Messages: messages}, nil
}

func (b *Builder) renderSystem(persona *types.Persona, profile types.PersonaStyleProfile) (string, error) {
	data := struct {
		Name         string
		MessageCount int
		Period       string
		PeakHour     string
		AvgLength    string
		LengthHint   string
		Traits       []trait
		StyleLines   []string
		Summary      *types.PersonalitySummary
	}{
		Name:         persona.Name,
		MessageCount: persona.MessageCount,
		Traits:       traits(persona.StyleFeatures, profile.EmotionalDistribution),
		StyleLines:   styleLines(profile),
		Summary:      persona.Summary,
	}
	if data.MessageCount == 0 {
		data.MessageCount = profile.MessageCount
	}
	if !persona.DateRangeStart.IsZero() && !persona.DateRangeEnd.IsZero() {
		data.Period = persona.DateRangeStart.Format("2006-01-02") + " to " + persona.DateRangeEnd.Format("2006-01-02")
	}
	if !profile.Empty && profile.MessageCount > 0 {
		data.PeakHour = fmt.Sprintf("%02d:00", profile.PeakActivityHour)
	}
	if profile.AvgMessageLength > 0 {
		data.AvgLength = fmt.Sprintf("%.0f", math.Round(profile.AvgMessageLength))
		data.LengthHint = lengthHint(profile.AvgMessageLength)
	}

	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	return buf.String(), nil
}

func (b *Builder) renderContext(name string, retrieved []types.RankedResult) (string, error) {
	if len(retrieved) == 0 {
		return NoContextMarker, nil
	}
	if len(retrieved) > b.contextLimit {
		retrieved = retrieved[:b.contextLimit]
	}
	lines := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		lines = append(lines, FormatContextLine(r.Message))
	}

	var buf bytes.Buffer
	err := contextTemplate.Execute(&buf, struct {
		Name  string
		Lines []string
	}{Name: name, Lines: lines})
	if err != nil {
		return "", fmt.Errorf("failed to build context block: %w", err)
	}
	return buf.String(), nil
}

// FormatContextLine renders a message as "[timestamp] sender: content".
func FormatContextLine(m types.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04"), m.Sender, m.Content)
}

// Contents converts the prompt into genai contents for a model.LLM.
func (p Prompt) Contents() []*genai.Content {
	contents := make([]*genai.Content, 0, len(p.Messages)+2)
	contents = append(contents, genai.NewContentFromText(p.System, "system"))
	if p.Context != "" {
		contents = append(contents, genai.NewContentFromText(p.Context, "system"))
	}
	for _, m := range p.Messages {
		switch m.Role {
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case types.RoleSystem:
			contents = append(contents, genai.NewContentFromText(m.Content, "system"))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}

func traits(features map[string]float64, tones map[types.Emotion]float64) []trait {
	var out []trait
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if level := evidence(features[name]); level != "" {
			out = append(out, trait{Name: name, Level: level})
		}
	}
	for _, tone := range []types.Emotion{types.EmotionPositive, types.EmotionNegative} {
		if level := evidence(tones[tone]); level != "" {
			out = append(out, trait{Name: string(tone) + " tone", Level: level})
		}
	}
	return out
}

func evidence(v float64) string {
	switch {
	case v > veryEvidentThreshold:
		return "very evident"
	case v > somewhatEvidentThreshold:
		return "somewhat evident"
	default:
		return ""
	}
}

func lengthHint(avg float64) string {
	switch {
	case avg < 10:
		return "very short bursts"
	case avg < 30:
		return "short messages"
	default:
		return "fairly long messages"
	}
}

func styleLines(profile types.PersonaStyleProfile) []string {
	var lines []string
	if emoji := topKeys(profile.EmojiProfile, listedItems); len(emoji) > 0 {
		if len(profile.EmojiProfile) > frequentEmojiEntries {
			lines = append(lines, "Uses emoji frequently: "+strings.Join(emoji, " "))
		} else {
			lines = append(lines, "Occasionally uses emoji: "+strings.Join(emoji, " "))
		}
	}
	if patterns := topKeys(profile.SentencePatterns, listedItems); len(patterns) > 0 {
		lines = append(lines, "Common openings and endings: "+strings.Join(patterns, " / "))
	}
	if len(profile.FrequentWords) > 0 {
		words := profile.FrequentWords
		if len(words) > listedItems {
			words = words[:listedItems]
		}
		lines = append(lines, "Frequently used words: "+strings.Join(words, ", "))
	}
	return lines
}

// topKeys orders by count descending, then key.
func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
