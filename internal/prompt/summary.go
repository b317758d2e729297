package prompt

import (
	"bytes"
	"fmt"
	"text/template"
)

const summaryTemplateText = `Analyze the chat messages below, all written by {{.Name}}, and describe their personality.
Answer with a single JSON object with these fields:
- style: one sentence describing how they write
- keywords: up to 5 words that characterize them
- emotion: their dominant emotional tendency
- topics: up to 5 topics they talk about
- avg_length: "short", "medium" or "long"

Messages:
{{- range .Samples}}
- {{.}}
{{- end}}`

var summaryTemplate = template.Must(template.New("summary").Parse(summaryTemplateText))

// BuildSummaryInstruction renders the personality analysis request.
func BuildSummaryInstruction(name string, samples []string) (string, error) {
	data := struct {
		Name    string
		Samples []string
	}{
		Name:    name,
		Samples: samples,
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	return buf.String(), nil
}
