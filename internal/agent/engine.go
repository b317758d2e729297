// Package agent wires retrieval, prompting and generation into persona turns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/generation"
	"github.com/easeaico/second-self/internal/prompt"
	"github.com/easeaico/second-self/internal/retrieval"
	"github.com/easeaico/second-self/internal/style"
	"github.com/easeaico/second-self/internal/types"
)

const (
	defaultContextTurns = 3
	defaultSampleSize   = 100
)

var (
	// ErrNothingToRegenerate is returned when no user turn precedes the index.
	ErrNothingToRegenerate = errors.New("no user turn to regenerate")
	// ErrInvalidTurnIndex is returned when the index does not point at an
	// assistant turn.
	ErrInvalidTurnIndex = errors.New("index is not an assistant turn")
)

// MessageStore persists a persona's historical messages.
type MessageStore interface {
	FindByPersona(ctx context.Context, personaID string, filter types.MessageFilter) ([]types.Message, error)
	SaveEmbedding(ctx context.Context, messageID string, embedding []float32) error
	InsertBatch(ctx context.Context, msgs []types.Message) ([]types.Message, error)
}

// PersonaStore persists personas and their derived statistics.
type PersonaStore interface {
	Get(ctx context.Context, personaID string) (*types.Persona, error)
	Save(ctx context.Context, persona *types.Persona) error
	UpdateStyleProfile(ctx context.Context, personaID string, profile types.PersonaStyleProfile) error
	UpdateAnalysis(ctx context.Context, personaID string, patterns types.ConversationPatterns, summary *types.PersonalitySummary) error
}

// TranscriptStore persists live chat turns.
type TranscriptStore interface {
	AppendTurn(ctx context.Context, chatID string, turn types.ChatTurn) error
	ReplaceTurn(ctx context.Context, chatID string, index int, turn types.ChatTurn) error
	Recent(ctx context.Context, chatID string, limit int) ([]types.ChatTurn, error)
}

// Embedder turns texts into vectors and reports whether fallback vectors
// were used for the latest call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	MockMode() bool
}

// Deps are the collaborators of an Engine. Transcripts and Summarizer are optional.
type Deps struct {
	Messages    MessageStore
	Personas    PersonaStore
	Transcripts TranscriptStore
	Embedder    Embedder
	Retriever   *retrieval.Coordinator
	Builder     *prompt.Builder
	Generator   *generation.Client
	Profiler    *style.Profiler
	Analyzer    *style.Analyzer
	Summarizer  *style.Summarizer
	Lexicon     emotion.Lexicon
}

// Options tune an Engine.
type Options struct {
	TopK              int
	HistoryLimit      int
	StyleSampleSize   int
	GenerationTimeout time.Duration
}

// Engine runs persona turns. It is safe for concurrent use; turns for the
// same persona are not serialized.
type Engine struct {
	deps Deps
	opts Options
}

// New validates deps and returns an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Messages == nil, deps.Personas == nil:
		return nil, fmt.Errorf("message and persona stores are required")
	case deps.Retriever == nil, deps.Builder == nil, deps.Generator == nil:
		return nil, fmt.Errorf("retriever, prompt builder and generator are required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Profiler == nil {
		deps.Profiler = style.NewProfiler(deps.Lexicon, 0)
	}
	if deps.Analyzer == nil {
		deps.Analyzer = style.NewAnalyzer(deps.Lexicon)
	}
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.StyleSampleSize <= 0 {
		opts.StyleSampleSize = defaultSampleSize
	}
	return &Engine{deps: deps, opts: opts}, nil
}

// Turn is one user utterance addressed to a persona.
type Turn struct {
	PersonaID string
	// ChatID keys transcript persistence; empty disables it.
	ChatID    string
	UserInput string
	// History is loaded from the transcript when empty.
	History []types.ChatTurn
	// Context overrides the recent utterances fed to the context strategy.
	Context []string
}

// Reply is the outcome of a batched turn.
type Reply struct {
	Text      string
	Retrieved []types.RankedResult
	// Failed marks Text as an apology for a terminal generation failure.
	Failed bool
	// Cause is the generation failure behind an apology.
	Cause error
	// MockEmbeddings reports that retrieval ran on fallback vectors.
	MockEmbeddings bool
}

type preparedTurn struct {
	prompt    prompt.Prompt
	retrieved []types.RankedResult
	mock      bool
}

// RetrieveAndGenerate runs a full turn and returns the complete reply.
// Generation failures come back as an apology in Reply, not as an error.
func (e *Engine) RetrieveAndGenerate(ctx context.Context, turn Turn) (Reply, error) {
	return e.generate(ctx, turn, -1)
}

// generate runs a batched turn. With replaceAt < 0 the history may come from
// the transcript and both turns are appended. Otherwise the history is taken
// as given and a successful reply overwrites transcript position replaceAt.
func (e *Engine) generate(ctx context.Context, turn Turn, replaceAt int) (Reply, error) {
	fresh := replaceAt < 0
	prep, err := e.prepare(ctx, turn, fresh)
	if err != nil {
		return Reply{}, err
	}
	if fresh {
		e.persist(ctx, turn.ChatID, types.RoleUser, turn.UserInput)
	}

	genCtx, cancel := e.generationContext(ctx)
	defer cancel()

	reply := Reply{Retrieved: prep.retrieved, MockEmbeddings: prep.mock}
	text, err := e.deps.Generator.Generate(genCtx, prep.prompt)
	if err != nil {
		slog.Error("failed to generate persona reply", "persona", turn.PersonaID, "reason", generation.Reason(err), "error", err.Error())
		reply.Text = generation.ApologyFor(err)
		reply.Failed = true
		reply.Cause = err
		return reply, nil
	}

	reply.Text = text
	if fresh {
		e.persist(ctx, turn.ChatID, types.RoleAssistant, text)
	} else {
		e.replace(ctx, turn.ChatID, replaceAt, text)
	}
	return reply, nil
}

// RetrieveAndGenerateStream prepares a streaming turn. Whatever the stream
// yields is persisted once it reaches a terminal state. The stream holds a
// generation timeout until it ends: callers must either range over Chunks
// or call Close.
func (e *Engine) RetrieveAndGenerateStream(ctx context.Context, turn Turn) (*generation.Stream, []types.RankedResult, error) {
	prep, err := e.prepare(ctx, turn, true)
	if err != nil {
		return nil, nil, err
	}
	e.persist(ctx, turn.ChatID, types.RoleUser, turn.UserInput)

	genCtx, cancel := e.generationContext(ctx)
	stream := e.deps.Generator.Stream(genCtx, prep.prompt)
	stream.OnDone(func(s *generation.Stream) {
		defer cancel()
		if err := s.Err(); err != nil {
			slog.Error("persona reply stream failed", "persona", turn.PersonaID, "reason", generation.Reason(err), "partial", len(s.Text()), "error", err.Error())
		}
		if text := s.Text(); text != "" {
			e.persist(context.WithoutCancel(ctx), turn.ChatID, types.RoleAssistant, text)
		}
	})
	return stream, prep.retrieved, nil
}

// Regenerate produces a new reply for the assistant turn at index and
// overwrites that turn in the chat transcript. turn.History must be the whole
// chat; when empty it is loaded from the transcript. The reply answers the
// last user turn before index, with the turns preceding that user turn as
// history. A failed generation leaves the stored turn untouched.
func (e *Engine) Regenerate(ctx context.Context, turn Turn, index int) (Reply, error) {
	history := turn.History
	if len(history) == 0 && turn.ChatID != "" && e.deps.Transcripts != nil {
		var err error
		history, err = e.deps.Transcripts.Recent(ctx, turn.ChatID, 0)
		if err != nil {
			return Reply{}, fmt.Errorf("failed to load chat transcript: %w", err)
		}
	}
	if index < 0 || index >= len(history) || history[index].Role != types.RoleAssistant {
		return Reply{}, fmt.Errorf("turn %d of %d: %w", index, len(history), ErrInvalidTurnIndex)
	}

	for i := index - 1; i >= 0; i-- {
		if history[i].Role != types.RoleUser {
			continue
		}
		retry := turn
		retry.UserInput = history[i].Content
		retry.History = append([]types.ChatTurn(nil), history[:i]...)
		return e.generate(ctx, retry, index)
	}
	return Reply{}, ErrNothingToRegenerate
}

// prepare resolves the persona, retrieves context and builds the prompt.
// Retrieval always completes before the prompt is built.
func (e *Engine) prepare(ctx context.Context, turn Turn, loadHistory bool) (preparedTurn, error) {
	persona, err := e.deps.Personas.Get(ctx, turn.PersonaID)
	if err != nil {
		if errors.Is(err, types.ErrPersonaNotFound) {
			return preparedTurn{}, fmt.Errorf("persona %s: %w", turn.PersonaID, err)
		}
		return preparedTurn{}, fmt.Errorf("failed to load persona: %w", err)
	}

	history := turn.History
	if loadHistory && len(history) == 0 && turn.ChatID != "" && e.deps.Transcripts != nil {
		history, err = e.deps.Transcripts.Recent(ctx, turn.ChatID, e.opts.HistoryLimit)
		if err != nil {
			slog.Warn("failed to load chat transcript", "chat", turn.ChatID, "error", err.Error())
			history = nil
		}
	}

	recent := turn.Context
	if len(recent) == 0 {
		recent = recentUtterances(history, defaultContextTurns)
	}

	retrieved, err := e.deps.Retriever.Retrieve(ctx, turn.UserInput, turn.PersonaID, recent, e.opts.TopK)
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery):
		return preparedTurn{}, err
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return preparedTurn{}, ctxErr
		}
		slog.Warn("retrieval unavailable, replying without context", "persona", turn.PersonaID, "error", err.Error())
		retrieved = nil
	}

	p, err := e.deps.Builder.Build(prompt.BuildContext{
		Persona:   persona,
		Retrieved: retrieved,
		History:   history,
		UserInput: turn.UserInput,
	})
	if err != nil {
		return preparedTurn{}, fmt.Errorf("failed to build prompt: %w", err)
	}

	return preparedTurn{
		prompt:    p,
		retrieved: retrieved,
		mock:      e.deps.Embedder.MockMode(),
	}, nil
}

func (e *Engine) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.GenerationTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.GenerationTimeout)
	}
	return context.WithCancel(ctx)
}

// persist appends a transcript turn. Failures are logged and dropped.
func (e *Engine) persist(ctx context.Context, chatID string, role types.Role, content string) {
	if chatID == "" || e.deps.Transcripts == nil {
		return
	}
	turn := types.ChatTurn{Role: role, Content: content, Timestamp: time.Now()}
	if err := e.deps.Transcripts.AppendTurn(ctx, chatID, turn); err != nil {
		slog.Error("failed to persist chat turn", "chat", chatID, "role", string(role), "error", err.Error())
	}
}

// replace overwrites a transcript turn with a regenerated reply. Failures
// are logged and dropped.
func (e *Engine) replace(ctx context.Context, chatID string, index int, content string) {
	if chatID == "" || e.deps.Transcripts == nil {
		return
	}
	turn := types.ChatTurn{Role: types.RoleAssistant, Content: content, Timestamp: time.Now()}
	if err := e.deps.Transcripts.ReplaceTurn(ctx, chatID, index, turn); err != nil {
		slog.Error("failed to replace chat turn", "chat", chatID, "index", index, "error", err.Error())
	}
}

// recentUtterances returns the contents of the last n history turns.
func recentUtterances(history []types.ChatTurn, n int) []string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]string, 0, len(history))
	for _, t := range history {
		if t.Content != "" {
			out = append(out, t.Content)
		}
	}
	return out
}
