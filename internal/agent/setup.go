package agent

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/config"
	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/generation"
	"github.com/easeaico/second-self/internal/memory"
	"github.com/easeaico/second-self/internal/models"
	"github.com/easeaico/second-self/internal/prompt"
	"github.com/easeaico/second-self/internal/repository"
	"github.com/easeaico/second-self/internal/retrieval"
	"github.com/easeaico/second-self/internal/style"
	"github.com/easeaico/second-self/internal/telemetry"
	"github.com/easeaico/second-self/internal/utils"
)

// NewEngineFromConfig builds the stores, providers and engine described by
// cfg. metrics may be nil. The returned func releases the store.
func NewEngineFromConfig(ctx context.Context, cfg config.Config, metrics *telemetry.Metrics) (*Engine, func(), error) {
	lex := emotion.DefaultLexicon
	retry := utils.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}

	var (
		messages    MessageStore
		personas    PersonaStore
		transcripts TranscriptStore
		source      retrieval.MessageSource
		searcher    retrieval.VectorSearcher
		cleanup     = func() {}
	)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		mem := repository.NewMemoryStore()
		messages, personas, transcripts, source = mem, mem, mem, mem
	default:
		store, err := repository.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		messages, personas, transcripts, source = store.Messages, store.Personas, store.Transcripts, store.Messages
		searcher = store.Messages
		cleanup = store.Close
	}

	var (
		embedRecorder memory.FallbackRecorder
		genRecorder   generation.Recorder
		retrievalTel  retrieval.Telemetry
	)
	if metrics != nil {
		embedRecorder, genRecorder, retrievalTel = metrics, metrics, metrics
	}

	backend, err := newEmbeddingBackend(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	provider, err := memory.NewProvider(backend, memory.ProviderConfig{
		Dimensions: cfg.EmbeddingDimensions,
		BatchSize:  cfg.EmbeddingBatchSize,
		Retry:      retry,
		ForceMock:  cfg.UseMockEmbeddings,
		CacheSize:  cfg.EmbeddingCacheSize,
		RateLimit:  cfg.EmbeddingRateLimit,
		Recorder:   embedRecorder,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	llm, err := models.NewModel(ctx, cfg.LLMProvider, cfg.LLMModel, &genai.ClientConfig{
		APIKey:      cfg.LLMAPIKey,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.LLMBaseURL},
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create %s model: %w", cfg.LLMProvider, err)
	}

	temp := float32(cfg.LLMTemperature)
	generator := generation.NewClient(llm, generation.Options{
		Temperature: &temp,
		MaxTokens:   cfg.LLMMaxTokens,
		Retry:       retry,
		Recorder:    genRecorder,
	})

	var summarizer *style.Summarizer
	if cfg.SummarizeStyle {
		summarizer = style.NewSummarizer(llm)
	}

	indexes := retrieval.NewIndexCache(source, lex)
	engine, err := New(Deps{
		Messages:    messages,
		Personas:    personas,
		Transcripts: transcripts,
		Embedder:    provider,
		Retriever:   retrieval.NewCoordinator(indexes, lex, retrieval.DefaultEntries(provider, searcher), retrievalTel),
		Builder:     prompt.NewBuilder(cfg.HistoryLimit, cfg.ContextLimit),
		Generator:   generator,
		Profiler:    style.NewProfiler(lex, 0),
		Analyzer:    style.NewAnalyzer(lex),
		Summarizer:  summarizer,
		Lexicon:     lex,
	}, Options{
		TopK:              cfg.TopK,
		HistoryLimit:      cfg.HistoryLimit,
		StyleSampleSize:   cfg.StyleSampleSize,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	slog.Info("engine ready",
		"store", cfg.StoreBackend,
		"llm_provider", cfg.LLMProvider,
		"model", llm.Name(),
		"embedding_provider", cfg.EmbeddingProvider,
		"mock_embeddings", provider.MockMode())
	return engine, cleanup, nil
}

// newEmbeddingBackend returns nil when embeddings are mocked or no key is set.
func newEmbeddingBackend(ctx context.Context, cfg config.Config) (memory.Backend, error) {
	if cfg.UseMockEmbeddings {
		return nil, nil
	}
	key := cfg.EmbeddingKey()
	if key == "" {
		slog.Warn("no embedding API key configured, using fallback embeddings", "provider", cfg.EmbeddingProvider)
		return nil, nil
	}
	switch cfg.EmbeddingProvider {
	case config.EmbeddingGenAI:
		backend, err := memory.NewGenAIBackend(ctx, key, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		backend, err := memory.NewOpenAIBackend(key, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.EmbeddingBatchSize)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}
