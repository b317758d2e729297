// Package memory 实现消息文本的向量化，含批处理、重试与本地降级向量。
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Backend 是远端向量服务的最小抽象。
type Backend interface {
	Name() string
	// MaxBatch 返回单次请求允许的最大文本数，0 表示不限制。
	MaxBatch() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GenAIBackend 通过 Google GenAI 生成向量。
type GenAIBackend struct {
	client     *genai.Client
	model      string
	dimensions int
}

const genaiMaxBatch = 100

// NewGenAIBackend 创建 GenAI 的向量化实现。
func NewGenAIBackend(ctx context.Context, apiKey, modelName string, dimensions int) (*GenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is required for embeddings")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIBackend{
		client:     client,
		model:      modelName,
		dimensions: dimensions,
	}, nil
}

func (e *GenAIBackend) Name() string {
	return "genai/" + e.model
}

func (e *GenAIBackend) MaxBatch() int {
	return genaiMaxBatch
}

func (e *GenAIBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch")
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	slog.Debug("genai embeddings created", "model", e.model, "count", len(vectors))
	return vectors, nil
}
