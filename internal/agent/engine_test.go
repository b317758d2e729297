package agent

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/generation"
	"github.com/easeaico/second-self/internal/memory"
	"github.com/easeaico/second-self/internal/prompt"
	"github.com/easeaico/second-self/internal/repository"
	"github.com/easeaico/second-self/internal/retrieval"
	"github.com/easeaico/second-self/internal/style"
	"github.com/easeaico/second-self/internal/types"
	"github.com/easeaico/second-self/internal/utils"
)

// fakeLLM replies with chunks, optionally failing after them.
type fakeLLM struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	requests []*model.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks, failure := f.chunks, f.err
	f.mu.Unlock()

	return func(yield func(*model.LLMResponse, error) bool) {
		if stream {
			for _, c := range chunks {
				if !yield(&model.LLMResponse{Content: genai.NewContentFromText(c, genai.RoleModel), Partial: true}, nil) {
					return
				}
			}
		}
		if failure != nil {
			yield(nil, failure)
			return
		}
		yield(&model.LLMResponse{Content: genai.NewContentFromText(strings.Join(chunks, ""), genai.RoleModel), TurnComplete: true}, nil)
	}
}

func (f *fakeLLM) lastUserText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents := f.requests[len(f.requests)-1].Contents
	return utils.ExtractContentText(contents[len(contents)-1])
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type harness struct {
	engine *Engine
	store  *repository.MemoryStore
	llm    *fakeLLM
}

func newHarness(t *testing.T, llm *fakeLLM, summarizer model.LLM) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	provider, err := memory.NewProvider(nil, memory.ProviderConfig{Dimensions: 16})
	require.NoError(t, err)

	lex := emotion.DefaultLexicon
	indexes := retrieval.NewIndexCache(store, lex)
	deps := Deps{
		Messages:    store,
		Personas:    store,
		Transcripts: store,
		Embedder:    provider,
		Retriever:   retrieval.NewCoordinator(indexes, lex, retrieval.DefaultEntries(provider, nil), nil),
		Builder:     prompt.NewBuilder(10, 5),
		Generator:   generation.NewClient(llm, generation.Options{Retry: utils.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond}}),
		Lexicon:     lex,
	}
	if summarizer != nil {
		deps.Summarizer = style.NewSummarizer(summarizer)
	}
	engine, err := New(deps, Options{GenerationTimeout: time.Second})
	require.NoError(t, err)
	return &harness{engine: engine, store: store, llm: llm}
}

func at(minute int) time.Time {
	return time.Date(2024, 5, 1, 20, minute, 0, 0, time.UTC)
}

func chatExport() []types.Message {
	return []types.Message{
		{Sender: "system", Content: "Ann joined the chat", Timestamp: at(0)},
		{Sender: "me", Content: "Do you like Python programming?", Timestamp: at(1)},
		{Sender: "Ann", Content: "Python is my favourite language", Timestamp: at(2)},
		{Sender: "me", Content: "what about dinner", Timestamp: at(3)},
		{Sender: "Ann", Content: "I cooked pasta yesterday", Timestamp: at(4)},
		{Sender: "me", Content: "ok", Timestamp: at(5)},
		{Sender: "me", Content: "   ", Timestamp: at(6)},
		{Sender: "me", Content: "see you", Timestamp: at(7)},
		{Sender: "Ann", Content: "Python programming all night lol", Timestamp: at(8)},
	}
}

func ingest(t *testing.T, h *harness) {
	t.Helper()
	res, err := h.engine.Ingest(context.Background(), "ann", "", chatExport())
	require.NoError(t, err)
	require.Equal(t, 7, res.Inserted)
	require.Equal(t, 2, res.Skipped)
	require.True(t, res.MockEmbeddings)
}

func TestIngestCreatesPersonaAndProfile(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"hi"}}, nil)
	ingest(t, h)

	p, err := h.store.Get(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, 7, p.MessageCount)
	assert.Equal(t, at(1), p.DateRangeStart)
	assert.Equal(t, at(8), p.DateRangeEnd)
	assert.Equal(t, 7, p.Style.MessageCount)
	assert.Equal(t, 20, p.Style.PeakActivityHour)
	require.NotNil(t, p.Patterns)
	assert.Nil(t, p.Summary)

	msgs, err := h.store.FindByPersona(context.Background(), "ann", types.MessageFilter{MissingEmbedding: true})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRetrieveAndGenerate(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"haha ", "sure"}}, nil)
	ingest(t, h)
	ctx := context.Background()

	reply, err := h.engine.RetrieveAndGenerate(ctx, Turn{PersonaID: "ann", ChatID: "c1", UserInput: "Python programming"})
	require.NoError(t, err)
	assert.Equal(t, "haha sure", reply.Text)
	assert.False(t, reply.Failed)
	assert.True(t, reply.MockEmbeddings)
	require.NotEmpty(t, reply.Retrieved)
	assert.True(t, slices.ContainsFunc(reply.Retrieved, func(r types.RankedResult) bool {
		return strings.Contains(r.Message.Content, "Python")
	}))
	assert.Equal(t, "Python programming", h.llm.lastUserText())

	turns, err := h.store.Recent(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, "haha sure", turns[1].Content)

	// the transcript becomes history of the next turn
	_, err = h.engine.RetrieveAndGenerate(ctx, Turn{PersonaID: "ann", ChatID: "c1", UserInput: "and pasta?"})
	require.NoError(t, err)
	req := h.llm.requests[len(h.llm.requests)-1]
	assert.Equal(t, "haha sure", utils.ExtractContentText(req.Contents[len(req.Contents)-2]))
}

func TestRetrieveAndGenerateUnknownPersona(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"hi"}}, nil)

	_, err := h.engine.RetrieveAndGenerate(context.Background(), Turn{PersonaID: "ghost", UserInput: "hello"})
	assert.ErrorIs(t, err, types.ErrPersonaNotFound)
	assert.Zero(t, h.llm.calls())
}

func TestRetrieveAndGenerateEmptyInput(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"hi"}}, nil)
	ingest(t, h)

	_, err := h.engine.RetrieveAndGenerate(context.Background(), Turn{PersonaID: "ann", UserInput: "  "})
	assert.ErrorIs(t, err, retrieval.ErrEmptyQuery)
}

func TestRetrieveAndGenerateApologizesOnFailure(t *testing.T) {
	h := newHarness(t, &fakeLLM{err: errors.New("upstream unavailable")}, nil)
	ingest(t, h)
	ctx := context.Background()

	reply, err := h.engine.RetrieveAndGenerate(ctx, Turn{PersonaID: "ann", ChatID: "c1", UserInput: "Python?"})
	require.NoError(t, err)
	assert.True(t, reply.Failed)
	assert.Equal(t, generation.ApologyFor(reply.Cause), reply.Text)
	var genErr *generation.GenerationError
	assert.ErrorAs(t, reply.Cause, &genErr)

	turns, err := h.store.Recent(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, types.RoleUser, turns[0].Role)
}

func TestStreamPersistsReply(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"Hel", "lo"}}, nil)
	ingest(t, h)
	ctx := context.Background()

	stream, retrieved, err := h.engine.RetrieveAndGenerateStream(ctx, Turn{PersonaID: "ann", ChatID: "c1", UserInput: "Python programming"})
	require.NoError(t, err)
	assert.NotEmpty(t, retrieved)

	var got []string
	for chunk := range stream.Chunks() {
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, generation.StateCompleted, stream.State())

	turns, err := h.store.Recent(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello", turns[1].Content)
}

func TestStreamPersistsPartialReply(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"Hel", "lo"}, err: errors.New("connection reset")}, nil)
	ingest(t, h)
	ctx := context.Background()

	stream, _, err := h.engine.RetrieveAndGenerateStream(ctx, Turn{PersonaID: "ann", ChatID: "c1", UserInput: "Python"})
	require.NoError(t, err)

	text, err := stream.Collect()
	require.Error(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, generation.StateFailed, stream.State())

	turns, err := h.store.Recent(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello", turns[1].Content)
}

func TestStreamClosedUnreadKeepsOnlyUserTurn(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"never"}}, nil)
	ingest(t, h)
	ctx := context.Background()

	stream, _, err := h.engine.RetrieveAndGenerateStream(ctx, Turn{PersonaID: "ann", ChatID: "c1", UserInput: "Python"})
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, generation.StateCompleted, stream.State())
	assert.Equal(t, 0, h.llm.calls())

	turns, err := h.store.Recent(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, types.RoleUser, turns[0].Role)
}

func storeTranscript(t *testing.T, h *harness, chatID string, turns []types.ChatTurn) {
	t.Helper()
	for _, turn := range turns {
		require.NoError(t, h.store.AppendTurn(context.Background(), chatID, turn))
	}
}

func regenTranscript() []types.ChatTurn {
	return []types.ChatTurn{
		{Role: types.RoleUser, Content: "first question"},
		{Role: types.RoleAssistant, Content: "first answer"},
		{Role: types.RoleUser, Content: "Python?"},
		{Role: types.RoleAssistant, Content: "bad answer"},
	}
}

func contents(turns []types.ChatTurn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = string(t.Role) + ":" + t.Content
	}
	return out
}

func TestRegenerateReplacesStoredReply(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"again"}}, nil)
	ingest(t, h)
	ctx := context.Background()
	storeTranscript(t, h, "c9", regenTranscript())

	reply, err := h.engine.Regenerate(ctx, Turn{PersonaID: "ann", ChatID: "c9"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "again", reply.Text)
	assert.Equal(t, "Python?", h.llm.lastUserText())

	req := h.llm.requests[len(h.llm.requests)-1]
	assert.Equal(t, "first answer", utils.ExtractContentText(req.Contents[len(req.Contents)-2]))

	turns, err := h.store.Recent(ctx, "c9", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"user:first question",
		"assistant:first answer",
		"user:Python?",
		"assistant:again",
	}, contents(turns))
}

func TestRegenerateEarlierTurnKeepsOrder(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"regenerated"}}, nil)
	ingest(t, h)
	ctx := context.Background()
	history := regenTranscript()
	storeTranscript(t, h, "c9", history)

	_, err := h.engine.Regenerate(ctx, Turn{PersonaID: "ann", ChatID: "c9", History: history}, 1)
	require.NoError(t, err)
	assert.Equal(t, "first question", h.llm.lastUserText())

	turns, err := h.store.Recent(ctx, "c9", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"user:first question",
		"assistant:regenerated",
		"user:Python?",
		"assistant:bad answer",
	}, contents(turns))
}

func TestRegenerateFailureKeepsStoredReply(t *testing.T) {
	h := newHarness(t, &fakeLLM{err: errors.New("connection reset")}, nil)
	ingest(t, h)
	ctx := context.Background()
	storeTranscript(t, h, "c9", regenTranscript())

	reply, err := h.engine.Regenerate(ctx, Turn{PersonaID: "ann", ChatID: "c9"}, 3)
	require.NoError(t, err)
	assert.True(t, reply.Failed)

	turns, err := h.store.Recent(ctx, "c9", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "bad answer", turns[3].Content)
}

func TestRegenerateRejectsBadIndex(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"again"}}, nil)
	ingest(t, h)
	ctx := context.Background()
	history := regenTranscript()

	for _, index := range []int{-1, 2, 4} {
		_, err := h.engine.Regenerate(ctx, Turn{PersonaID: "ann", History: history}, index)
		assert.ErrorIs(t, err, ErrInvalidTurnIndex, "index %d", index)
	}

	_, err := h.engine.Regenerate(ctx, Turn{PersonaID: "ann", History: history[1:2]}, 0)
	assert.ErrorIs(t, err, ErrNothingToRegenerate)
	assert.Equal(t, 0, h.llm.calls())
}

func TestRefreshPersonaStyleWithSummary(t *testing.T) {
	summary := &fakeLLM{chunks: []string{`{"style":"playful","keywords":["python"],"emotion":"upbeat","topics":["code"],"avg_length":"short"}`}}
	h := newHarness(t, &fakeLLM{chunks: []string{"hi"}}, summary)
	ingest(t, h)

	profile, err := h.engine.RefreshPersonaStyle(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, 7, profile.MessageCount)

	p, err := h.store.Get(context.Background(), "ann")
	require.NoError(t, err)
	require.NotNil(t, p.Summary)
	assert.Equal(t, "playful", p.Summary.Style)

	_, err = h.engine.RefreshPersonaStyle(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrPersonaNotFound)
}

func TestRefreshPersonaStyleSummaryFallback(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"hi"}}, &fakeLLM{err: errors.New("quota")})
	ingest(t, h)

	p, err := h.store.Get(context.Background(), "ann")
	require.NoError(t, err)
	require.NotNil(t, p.Summary)
	assert.Equal(t, style.FallbackSummary.Style, p.Summary.Style)
}

func TestBackfillEmbeddings(t *testing.T) {
	h := newHarness(t, &fakeLLM{chunks: []string{"hi"}}, nil)
	ctx := context.Background()
	var msgs []types.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, types.Message{PersonaID: "ann", Sender: "Ann", Content: "message " + string(rune('a'+i)), Timestamp: at(i)})
	}
	_, err := h.store.InsertBatch(ctx, msgs)
	require.NoError(t, err)

	filled, err := h.engine.BackfillEmbeddings(ctx, "ann", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, filled)

	missing, err := h.store.FindByPersona(ctx, "ann", types.MessageFilter{MissingEmbedding: true})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestInferPersonaName(t *testing.T) {
	assert.Equal(t, "Ann", inferPersonaName(chatExport()[1:]))
	assert.Equal(t, "solo", inferPersonaName([]types.Message{{Sender: "solo"}}))
	assert.Equal(t, "", inferPersonaName(nil))
}
