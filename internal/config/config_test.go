package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 1536, cfg.EmbeddingDimensions)
	assert.Equal(t, 16, cfg.EmbeddingBatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, 60*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, "sk-test", cfg.EmbeddingKey())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/secondself")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_PROVIDER", "genai")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("RETRY_MAX_DELAY", "250ms")
	t.Setenv("USE_MOCK_EMBEDDINGS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryMaxDelay)
	assert.True(t, cfg.UseMockEmbeddings)
	assert.Equal(t, "g-key", cfg.EmbeddingKey())
}

func TestLoadReportsAllProblems(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("EMBEDDING_PROVIDER", "cohere")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "LLM_API_KEY")
	assert.Contains(t, err.Error(), "cohere")
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("TOP_K", "ten")

	_, err := Load()
	assert.Error(t, err)
}
