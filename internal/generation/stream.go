package generation

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/easeaico/second-self/internal/models"
	"github.com/easeaico/second-self/internal/prompt"
	"github.com/easeaico/second-self/internal/utils"
)

var errStopped = errors.New("consumer stopped reading")

// Stream is a single, non-restartable streaming generation. Chunks are
// accumulated as they are yielded so the text produced so far survives
// failures and cancellation.
type Stream struct {
	ctx    context.Context
	client *Client
	prompt prompt.Prompt

	started atomic.Bool
	once    sync.Once

	mu     sync.Mutex
	state  State
	text   strings.Builder
	err    error
	onDone []func(*Stream)
}

func newStream(ctx context.Context, c *Client, p prompt.Prompt) *Stream {
	return &Stream{ctx: ctx, client: c, prompt: p, state: StateIdle}
}

// OnDone registers fn to run once after the stream reaches a terminal state.
// It must be called before ranging over Chunks.
func (s *Stream) OnDone(fn func(*Stream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = append(s.onDone, fn)
}

// State is the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text is everything yielded so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Err is the terminal failure, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends a stream that was never ranged over: it moves to COMPLETED with
// no text and runs the OnDone callbacks without calling the model. Once
// Chunks has started, Close does nothing and the stream ends on its own.
func (s *Stream) Close() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.finish(StateCompleted, nil, time.Now())
}

// Collect drains the stream and returns the accumulated text.
func (s *Stream) Collect() (string, error) {
	for range s.Chunks() {
	}
	return s.Text(), s.Err()
}

// Chunks yields text fragments in emission order. Only the first range over
// the sequence talks to the model; later ranges yield nothing.
func (s *Stream) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		if !s.started.CompareAndSwap(false, true) {
			return
		}
		start := time.Now()
		s.setState(StateRequesting)

		err := s.run(yield)
		switch {
		case err == nil, errors.Is(err, errStopped):
			s.finish(StateCompleted, nil, start)
		default:
			s.finish(StateFailed, err, start)
		}
	}
}

func (s *Stream) run(yield func(string) bool) error {
	policy := s.client.opts.Retry
	bo := policy.NewBackOff()
	attempts := 0
	for {
		attempts++
		emitted, err := s.attempt(yield)
		if err == nil || errors.Is(err, errStopped) {
			return err
		}

		// Only retry while nothing has reached the consumer.
		if emitted > 0 || s.Text() != "" || attempts >= policy.Attempts() || !models.IsRetryable(err) {
			slog.Error("failed to stream reply",
				"model", s.client.ModelName(),
				"attempts", attempts,
				"partial_length", len(s.Text()),
				"error", err.Error())
			return &GenerationError{Model: s.client.ModelName(), Attempts: attempts, Partial: s.Text(), Err: err}
		}

		wait := bo.NextBackOff()
		slog.Warn("stream request failed, retrying", "attempt", attempts, "wait", wait.String(), "error", err.Error())
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return &GenerationError{Model: s.client.ModelName(), Attempts: attempts, Err: s.ctx.Err()}
		case <-timer.C:
		}
	}
}

func (s *Stream) attempt(yield func(string) bool) (int, error) {
	emitted := 0
	for resp, err := range s.client.llm.GenerateContent(s.ctx, s.client.request(s.prompt), true) {
		if err != nil {
			return emitted, err
		}
		if resp == nil {
			continue
		}
		// The closing aggregate repeats the partials; use it only when
		// the model sent no partials at all.
		if !resp.Partial && emitted > 0 {
			continue
		}
		chunk := utils.ExtractContentText(resp.Content)
		if chunk == "" {
			continue
		}

		s.mu.Lock()
		if s.state == StateRequesting {
			s.state = StateStreaming
		}
		s.text.WriteString(chunk)
		s.mu.Unlock()
		emitted++

		if !yield(chunk) {
			return emitted, errStopped
		}
	}
	if err := s.ctx.Err(); err != nil {
		return emitted, err
	}
	return emitted, nil
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Stream) finish(state State, err error, start time.Time) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = state
		s.err = err
		callbacks := s.onDone
		s.mu.Unlock()

		if rec := s.client.opts.Recorder; rec != nil {
			rec.GenerationFinished("stream", state, time.Since(start))
		}
		for _, fn := range callbacks {
			fn(s)
		}
	})
}
