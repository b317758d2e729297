// Package generation drives a chat model for one persona reply, in batch or
// streaming mode, with retries and a user-safe failure path.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/models"
	"github.com/easeaico/second-self/internal/prompt"
	"github.com/easeaico/second-self/internal/utils"
)

// State is the lifecycle position of one generation call.
type State string

const (
	StateIdle       State = "IDLE"
	StateRequesting State = "REQUESTING"
	StateStreaming  State = "STREAMING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Recorder observes finished generation calls.
type Recorder interface {
	GenerationFinished(mode string, state State, elapsed time.Duration)
}

// Options tune every request a Client sends.
type Options struct {
	// Temperature is nil to keep the model default.
	Temperature *float32
	MaxTokens   int
	Retry       utils.RetryPolicy
	Recorder    Recorder
}

// Client issues prompts to a model.LLM.
type Client struct {
	llm  model.LLM
	opts Options
}

// NewClient returns a Client over llm.
func NewClient(llm model.LLM, opts Options) *Client {
	return &Client{llm: llm, opts: opts}
}

// ModelName is the name of the backing model.
func (c *Client) ModelName() string {
	return c.llm.Name()
}

func (c *Client) request(p prompt.Prompt) *model.LLMRequest {
	cfg := &genai.GenerateContentConfig{}
	if c.opts.Temperature != nil {
		temp := *c.opts.Temperature
		cfg.Temperature = &temp
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	return &model.LLMRequest{
		Model:    c.llm.Name(),
		Contents: p.Contents(),
		Config:   cfg,
	}
}

// Generate returns the complete reply. Failures are retried up to the
// policy's budget and then returned as *GenerationError.
func (c *Client) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	start := time.Now()
	state := StateRequesting
	defer func() {
		if c.opts.Recorder != nil {
			c.opts.Recorder.GenerationFinished("batch", state, time.Since(start))
		}
	}()

	attempts := 0
	text, err := utils.Retry(ctx, c.opts.Retry, "generate", func(ctx context.Context) (string, error) {
		attempts++
		text, err := c.generateOnce(ctx, p)
		if err != nil && !models.IsRetryable(err) {
			return "", utils.Permanent(err)
		}
		return text, err
	})
	if err != nil {
		state = StateFailed
		genErr := &GenerationError{Model: c.llm.Name(), Attempts: attempts, Err: err}
		slog.Error("failed to generate reply", "model", c.llm.Name(), "attempts", attempts, "error", err.Error())
		return "", genErr
	}

	state = StateCompleted
	return text, nil
}

func (c *Client) generateOnce(ctx context.Context, p prompt.Prompt) (string, error) {
	var sb strings.Builder
	for resp, err := range c.llm.GenerateContent(ctx, c.request(p), false) {
		if err != nil {
			return "", err
		}
		if resp != nil {
			sb.WriteString(utils.ExtractContentText(resp.Content))
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("model returned an empty completion")
	}
	return text, nil
}

// Stream prepares a streaming call. Nothing is sent until the chunks are ranged over.
func (c *Client) Stream(ctx context.Context, p prompt.Prompt) *Stream {
	return newStream(ctx, c, p)
}
