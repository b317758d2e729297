package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/easeaico/second-self/internal/utils"
)

// OpenAIBackend calls an OpenAI compatible /embeddings endpoint.
type OpenAIBackend struct {
	client     *openai.Client
	model      string
	dimensions int
	maxBatch   int
}

// NewOpenAIBackend creates an embeddings backend. An empty baseURL targets api.openai.com.
func NewOpenAIBackend(apiKey, baseURL, modelName string, dimensions, maxBatch int) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are driven by Provider
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIBackend{
		client:     &client,
		model:      modelName,
		dimensions: dimensions,
		maxBatch:   maxBatch,
	}, nil
}

func (e *OpenAIBackend) Name() string {
	return "openai/" + e.model
}

func (e *OpenAIBackend) MaxBatch() int {
	return e.maxBatch
}

func (e *OpenAIBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	// Only the v3 embedding models accept a dimensions override.
	if e.dimensions > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && !utils.IsRetryableStatus(apiErr.StatusCode) {
			return nil, utils.Permanent(fmt.Errorf("failed to create embeddings: %w", err))
		}
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if resp == nil || len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch")
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[idx] = vec
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("missing embedding at index %d", i)
		}
	}
	return vectors, nil
}
