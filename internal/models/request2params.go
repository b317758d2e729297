package models

import (
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Model families that only accept the default temperature and take
// max_completion_tokens instead of max_tokens.
var fixedTemperaturePrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// RejectsTemperature reports whether modelName only accepts the default temperature.
func RejectsTemperature(modelName string) bool {
	name := strings.ToLower(modelName)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, prefix := range fixedTemperaturePrefixes {
		if name == prefix || strings.HasPrefix(name, prefix+"-") {
			return true
		}
	}
	return false
}

// buildOpenAIParams converts ADK request to OpenAI parameters
func buildOpenAIParams(req *model.LLMRequest, modelName string) *openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.Model == "" {
		params.Model = modelName
	}

	messages := convertContentsToMessages(req.Contents)
	if len(messages) > 0 {
		params.Messages = messages
	}

	if req.Config == nil {
		return &params
	}

	fixed := RejectsTemperature(params.Model)
	if fixed {
		if req.Config.Temperature != nil || req.Config.TopP != nil {
			slog.Debug("dropping sampling overrides unsupported by model", "model", params.Model)
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.Config.MaxOutputTokens))
		}
	} else {
		if req.Config.Temperature != nil {
			params.Temperature = openai.Float(float64(*req.Config.Temperature))
		}
		if req.Config.TopP != nil {
			params.TopP = openai.Float(float64(*req.Config.TopP))
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.Config.MaxOutputTokens))
		}
	}

	// 结构化输出：JSON Schema 优先，其次退化为 json_object。
	if schema, ok := req.Config.ResponseJsonSchema.(*jsonschema.Schema); ok && schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: convertSchemaToJSONSchema(schema),
				},
			},
		}
	} else if req.Config.ResponseMIMEType == "application/json" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	return &params
}

// convertSchemaToJSONSchema converts jsonschema.Schema to JSON Schema format
func convertSchemaToJSONSchema(schema *jsonschema.Schema) map[string]any {
	result := convertSchemaProperty(schema)
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	if _, ok := result["required"]; !ok && result["type"] == "object" {
		result["required"] = []string{}
	}
	return result
}

// convertSchemaProperty converts a single jsonschema.Schema property to JSON Schema format
func convertSchemaProperty(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return nil
	}

	prop := make(map[string]any)
	if len(schema.Types) > 0 {
		prop["type"] = schema.Types[0]
	} else if schema.Type != "" {
		prop["type"] = schema.Type
	}
	if schema.Description != "" {
		prop["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		prop["enum"] = schema.Enum
	}
	if schema.MaxItems != nil {
		prop["maxItems"] = *schema.MaxItems
	}
	if schema.Items != nil {
		prop["items"] = convertSchemaProperty(schema.Items)
	}
	if len(schema.Properties) > 0 {
		properties := make(map[string]any, len(schema.Properties))
		for name, propSchema := range schema.Properties {
			if propSchema != nil {
				properties[name] = convertSchemaProperty(propSchema)
			}
		}
		prop["properties"] = properties
	}
	if len(schema.Required) > 0 {
		prop["required"] = schema.Required
	}
	return prop
}

// convertContentsToMessages converts genai.Content to OpenAI messages
func convertContentsToMessages(contents []*genai.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	for _, content := range contents {
		if content == nil {
			continue
		}

		var sb strings.Builder
		for _, part := range content.Parts {
			if part != nil && part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
		textContent := sb.String()

		switch content.Role {
		case "user":
			messages = append(messages, openai.UserMessage(textContent))
		case "model", "assistant":
			messages = append(messages, openai.AssistantMessage(textContent))
		case "system":
			messages = append(messages, openai.SystemMessage(textContent))
		default:
			messages = append(messages, openai.UserMessage(textContent))
		}
	}

	return messages
}
