package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/types"
)

func scenarioPersona() *types.Persona {
	return &types.Persona{
		ID:           "p1",
		Name:         "Jay",
		MessageCount: 240,
		StyleFeatures: map[string]float64{
			"humor":     0.82,
			"formality": 0.5,
			"sarcasm":   0.1,
		},
		Style: types.PersonaStyleProfile{
			PersonaID:        "p1",
			MessageCount:     240,
			AvgMessageLength: 12.0,
			EmojiProfile: map[string]int{
				"😂": 30, "🔥": 12, "💀": 9, "🙏": 5, "😭": 4, "👀": 2,
			},
			FrequentWords:    []string{"lol", "yo", "fr"},
			PeakActivityHour: 23,
		},
	}
}

func TestBuildPromptAssembly(t *testing.T) {
	b := NewBuilder(10, 5)
	p, err := b.Build(BuildContext{Persona: scenarioPersona(), UserInput: "yo what's up"})
	require.NoError(t, err)

	assert.Contains(t, p.System, "You are Jay")
	assert.Contains(t, p.System, "240 historical messages")
	assert.Contains(t, p.System, "Uses emoji frequently: 😂 🔥 💀 🙏 😭")
	assert.Contains(t, p.System, "Frequently used words: lol, yo, fr")
	assert.Contains(t, p.System, "humor: very evident")
	assert.Contains(t, p.System, "formality: somewhat evident")
	assert.NotContains(t, p.System, "sarcasm")
	assert.Contains(t, p.System, "Most active around 23:00")
}

func TestBuildEmptyRetrievalRendersMarker(t *testing.T) {
	p, err := NewBuilder(0, 0).Build(BuildContext{Persona: scenarioPersona(), UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, NoContextMarker, p.Context)
	assert.Equal(t, "no relevant context", p.Context)
}

func TestBuildContextLines(t *testing.T) {
	at := time.Date(2024, 2, 3, 14, 5, 0, 0, time.UTC)
	var retrieved []types.RankedResult
	for i := 0; i < 7; i++ {
		retrieved = append(retrieved, types.RankedResult{
			Message: types.Message{ID: fmt.Sprint(i), Sender: "Jay", Content: fmt.Sprintf("msg %d", i), Timestamp: at},
		})
	}

	p, err := NewBuilder(10, 5).Build(BuildContext{Persona: scenarioPersona(), Retrieved: retrieved, UserInput: "hi"})
	require.NoError(t, err)

	assert.Contains(t, p.Context, "[2024-02-03 14:05] Jay: msg 0")
	assert.Contains(t, p.Context, "[2024-02-03 14:05] Jay: msg 4")
	assert.NotContains(t, p.Context, "msg 5")
	assert.Less(t, strings.Index(p.Context, "msg 0"), strings.Index(p.Context, "msg 1"))
}

func TestBuildHistoryWindowAndUserLast(t *testing.T) {
	var history []types.ChatTurn
	for i := 0; i < 14; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		history = append(history, types.ChatTurn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	p, err := NewBuilder(10, 5).Build(BuildContext{Persona: scenarioPersona(), History: history, UserInput: "latest"})
	require.NoError(t, err)

	require.Len(t, p.Messages, 11)
	assert.Equal(t, "turn 4", p.Messages[0].Content)
	assert.Equal(t, "turn 13", p.Messages[9].Content)
	assert.Equal(t, types.ChatTurn{Role: types.RoleUser, Content: "latest"}, p.Messages[10])
}

func TestBuildRequiresPersona(t *testing.T) {
	_, err := NewBuilder(10, 5).Build(BuildContext{UserInput: "hi"})
	assert.Error(t, err)
}

func TestBuildFewEmojiIsOccasional(t *testing.T) {
	persona := scenarioPersona()
	persona.Style.EmojiProfile = map[string]int{"😂": 3}
	p, err := NewBuilder(10, 5).Build(BuildContext{Persona: persona, UserInput: "hi"})
	require.NoError(t, err)
	assert.Contains(t, p.System, "Occasionally uses emoji: 😂")
	assert.NotContains(t, p.System, "Uses emoji frequently")
}

func TestPromptContents(t *testing.T) {
	p := Prompt{
		System:  "sys",
		Context: NoContextMarker,
		Messages: []types.ChatTurn{
			{Role: types.RoleUser, Content: "a"},
			{Role: types.RoleAssistant, Content: "b"},
			{Role: types.RoleUser, Content: "c"},
		},
	}
	contents := p.Contents()
	require.Len(t, contents, 5)
	assert.Equal(t, "system", contents[0].Role)
	assert.Equal(t, "system", contents[1].Role)
	assert.Equal(t, string(genai.RoleModel), contents[3].Role)
	assert.Equal(t, "c", contents[4].Parts[0].Text)
}

func TestBuildSummaryInstruction(t *testing.T) {
	text, err := BuildSummaryInstruction("Jay", []string{"lol", "yo fr"})
	require.NoError(t, err)
	assert.Contains(t, text, "written by Jay")
	assert.Contains(t, text, "- yo fr")
}
