package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/easeaico/second-self/internal/utils"
)

const defaultBatchSize = 16

// FallbackRecorder observes degradations to local vectors.
type FallbackRecorder interface {
	EmbeddingFallback(backend, reason string, count int)
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Dimensions int
	BatchSize  int
	Retry      utils.RetryPolicy
	// ForceMock skips the backend entirely.
	ForceMock bool
	CacheSize int
	// RateLimit is remote calls per second; 0 disables limiting.
	RateLimit float64
	Recorder  FallbackRecorder
}

// Provider turns text into fixed-dimension vectors. It batches and retries
// remote calls and degrades to FallbackEmbedding when the backend is unusable.
type Provider struct {
	backend  Backend
	cfg      ProviderConfig
	cache    *lru.Cache[string, []float32]
	limiter  *rate.Limiter
	recorder FallbackRecorder
	mock     atomic.Bool
}

// NewProvider returns a Provider. A nil backend always uses fallback vectors.
func NewProvider(backend Backend, cfg ProviderConfig) (*Provider, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if backend != nil && backend.MaxBatch() > 0 && backend.MaxBatch() < cfg.BatchSize {
		cfg.BatchSize = backend.MaxBatch()
	}

	p := &Provider{backend: backend, cfg: cfg, recorder: cfg.Recorder}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		p.cache = cache
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if backend == nil || cfg.ForceMock {
		p.mock.Store(true)
	}
	return p, nil
}

// Dimensions is the vector size every call returns.
func (p *Provider) Dimensions() int {
	return p.cfg.Dimensions
}

// MockMode reports whether the most recent call returned fallback vectors.
// It is always true when the backend is disabled.
func (p *Provider) MockMode() bool {
	return p.mock.Load()
}

// Embed returns the vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	if p.backend == nil || p.cfg.ForceMock {
		for i, text := range texts {
			out[i] = FallbackEmbedding(text, p.cfg.Dimensions)
		}
		p.mock.Store(true)
		return out, nil
	}

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = FallbackEmbedding(text, p.cfg.Dimensions)
			continue
		}
		if p.cache != nil {
			if vec, ok := p.cache.Get(text); ok {
				out[i] = vec
				continue
			}
		}
		pending = append(pending, i)
	}

	degraded := false
	for start := 0; start < len(pending); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(pending))
		chunk := pending[start:end]

		batch := make([]string, len(chunk))
		for j, idx := range chunk {
			batch[j] = texts[idx]
		}

		vectors, err := p.embedRemote(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("failed to embed texts: %w", ctxErr)
			}
			slog.Warn("embedding provider unavailable, using fallback vectors",
				"backend", p.backend.Name(),
				"count", len(batch),
				"error", err.Error())
			if p.recorder != nil {
				p.recorder.EmbeddingFallback(p.backend.Name(), "retries_exhausted", len(batch))
			}
			degraded = true
			for j, idx := range chunk {
				out[idx] = FallbackEmbedding(batch[j], p.cfg.Dimensions)
			}
			continue
		}

		for j, idx := range chunk {
			out[idx] = vectors[j]
			if p.cache != nil {
				p.cache.Add(texts[idx], vectors[j])
			}
		}
	}

	p.mock.Store(degraded)
	return out, nil
}

func (p *Provider) embedRemote(ctx context.Context, batch []string) ([][]float32, error) {
	return utils.Retry(ctx, p.cfg.Retry, "embed", func(ctx context.Context) ([][]float32, error) {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vectors, err := p.backend.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(batch))
		}
		for i, vec := range vectors {
			fitted, err := p.fitDimensions(vec)
			if err != nil {
				return nil, utils.Permanent(err)
			}
			vectors[i] = fitted
		}
		return vectors, nil
	})
}

func (p *Provider) fitDimensions(vec []float32) ([]float32, error) {
	want := p.cfg.Dimensions
	switch {
	case len(vec) == want:
		return vec, nil
	case len(vec) > want:
		slog.Warn("embedding dimensions exceed target, truncating", "actual", len(vec), "target", want, "backend", p.backend.Name())
		return Normalize(append([]float32(nil), vec[:want]...)), nil
	default:
		return nil, fmt.Errorf("embedding dimensions mismatch: got %d want %d", len(vec), want)
	}
}
