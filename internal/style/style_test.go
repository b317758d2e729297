package style

import (
	"context"
	"errors"
	"iter"
	"reflect"
	"strings"
	"testing"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/types"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)
}

func sampleMessages() []types.Message {
	return []types.Message{
		{ID: "1", Sender: "小红", Content: "哈哈哈今天好开心😂", Timestamp: at(21, 0)},
		{ID: "2", Sender: "me", Content: "你在干嘛？", Timestamp: at(21, 2)},
		{ID: "3", Sender: "小红", Content: "哈哈哈刚吃完饭😂😂", Timestamp: at(21, 5)},
		{ID: "4", Sender: "小红", Content: "好累", Timestamp: at(9, 0)},
		{ID: "5", Sender: "me", Content: "明天去哪里吃饭？", Timestamp: at(9, 30)},
	}
}

func TestProfileIsDeterministic(t *testing.T) {
	p := NewProfiler(emotion.DefaultLexicon, 5)
	first := p.Profile("p1", sampleMessages())
	second := p.Profile("p1", sampleMessages())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("profile not deterministic:\n%#v\n%#v", first, second)
	}
}

func TestProfileEmptyInput(t *testing.T) {
	got := NewProfiler(emotion.DefaultLexicon, 5).Profile("p1", nil)
	if !got.Empty || got.PersonaID != "p1" {
		t.Fatalf("expected explicit empty profile, got %#v", got)
	}
	if got.EmotionalDistribution != nil || got.MessageCount != 0 {
		t.Fatalf("expected zero statistics, got %#v", got)
	}
}

func TestProfileStatistics(t *testing.T) {
	got := NewProfiler(emotion.DefaultLexicon, 5).Profile("p1", sampleMessages())

	if got.MessageCount != 5 {
		t.Fatalf("unexpected message count: %d", got.MessageCount)
	}
	// 9 + 5 + 9 + 2 + 8 runes
	if got.AvgMessageLength != 33.0/5.0 {
		t.Fatalf("unexpected average length: %f", got.AvgMessageLength)
	}
	if got.EmojiProfile["😂"] != 3 || len(got.EmojiProfile) != 1 {
		t.Fatalf("unexpected emoji profile: %#v", got.EmojiProfile)
	}
	if got.SentencePatterns["哈哈哈..."] != 2 {
		t.Fatalf("expected shared opening pattern, got %#v", got.SentencePatterns)
	}
	if got.PeakActivityHour != 21 {
		t.Fatalf("unexpected peak hour: %d", got.PeakActivityHour)
	}
	if len(got.FrequentWords) == 0 || got.FrequentWords[0] != "哈哈" {
		t.Fatalf("unexpected frequent words: %v", got.FrequentWords)
	}

	sum := 0.0
	for _, v := range got.EmotionalDistribution {
		sum += v
	}
	if sum < 0.999999 || sum > 1.000001 {
		t.Fatalf("emotional distribution sums to %f", sum)
	}
}

func TestPeakHourTieUsesLowestHour(t *testing.T) {
	msgs := []types.Message{
		{Content: "a", Timestamp: at(22, 0)},
		{Content: "b", Timestamp: at(7, 0)},
		{Content: "c", Timestamp: at(22, 30)},
		{Content: "d", Timestamp: at(7, 30)},
	}
	if got := NewProfiler(emotion.DefaultLexicon, 5).Profile("p1", msgs).PeakActivityHour; got != 7 {
		t.Fatalf("expected tie to resolve to 7, got %d", got)
	}
}

func TestIsEmoji(t *testing.T) {
	for _, s := range []string{"😂", "❤️", "👍🏻"} {
		if !isEmoji(s) {
			t.Fatalf("expected %q to be emoji", s)
		}
	}
	for _, s := range []string{"a", "好", "，", "!"} {
		if isEmoji(s) {
			t.Fatalf("did not expect %q to be emoji", s)
		}
	}
}

func TestAnalyzeResponsePatterns(t *testing.T) {
	msgs := sampleMessages()
	// a reply two hours later is not a direct reply
	msgs = append(msgs, types.Message{Sender: "小红", Content: "随便", Timestamp: at(11, 30)})

	got := NewAnalyzer(emotion.DefaultLexicon).Analyze(msgs, 0)

	// 9:00 -> 9:30, 21:00 -> 21:02, 21:02 -> 21:05
	want := (30*60 + 2*60 + 3*60) / 3.0
	if got.ResponsePatterns.AverageResponseTimeSeconds != want {
		t.Fatalf("unexpected latency: %f want %f", got.ResponsePatterns.AverageResponseTimeSeconds, want)
	}
	if got.ResponsePatterns.MessageCount != 6 {
		t.Fatalf("unexpected message count: %d", got.ResponsePatterns.MessageCount)
	}
}

func TestAnalyzeTopicsAndTime(t *testing.T) {
	got := NewAnalyzer(emotion.DefaultLexicon).Analyze(sampleMessages(), 0)

	want := []string{"明天去哪里吃饭？", "你在干嘛？"}
	if !reflect.DeepEqual(got.TopicTransitions, want) {
		t.Fatalf("unexpected topics: %v", got.TopicTransitions)
	}
	if got.TimePatterns.PeakHour != 21 || got.TimePatterns.PeakActivityPeriod != "21:00-22:00" {
		t.Fatalf("unexpected time patterns: %#v", got.TimePatterns)
	}
	if got.TimePatterns.HourDistribution[9] != 2 {
		t.Fatalf("unexpected histogram: %#v", got.TimePatterns.HourDistribution)
	}
}

func TestAnalyzeTopicPreviewAndCap(t *testing.T) {
	var msgs []types.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, types.Message{
			Sender:    "a",
			Content:   strings.Repeat("长", 25) + "吗",
			Timestamp: at(10, i),
		})
	}
	got := NewAnalyzer(emotion.DefaultLexicon).Analyze(msgs, 0)
	if len(got.TopicTransitions) != 5 {
		t.Fatalf("expected 5 topics, got %d", len(got.TopicTransitions))
	}
	if got.TopicTransitions[0] != strings.Repeat("长", 20)+"..." {
		t.Fatalf("unexpected preview: %s", got.TopicTransitions[0])
	}
}

func TestAnalyzeEmptyAndSample(t *testing.T) {
	empty := NewAnalyzer(emotion.DefaultLexicon).Analyze(nil, 10)
	if empty.TimePatterns.PeakHour != -1 || empty.TimePatterns.PeakActivityPeriod != "unknown" {
		t.Fatalf("unexpected empty time patterns: %#v", empty.TimePatterns)
	}

	sampled := NewAnalyzer(emotion.DefaultLexicon).Analyze(sampleMessages(), 2)
	if sampled.ResponsePatterns.MessageCount != 2 {
		t.Fatalf("expected sample of 2, got %d", sampled.ResponsePatterns.MessageCount)
	}
	if sampled.TimePatterns.PeakHour != 21 {
		t.Fatalf("expected latest messages to be sampled, got %d", sampled.TimePatterns.PeakHour)
	}
}

type fakeLLM struct {
	reply string
	err   error
	req   *model.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	f.req = req
	return func(yield func(*model.LLMResponse, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&model.LLMResponse{Content: genai.NewContentFromText(f.reply, genai.RoleModel)}, nil)
	}
}

func TestSummarizeParsesModelOutput(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"style\":\"playful\",\"keywords\":[\"哈哈\"],\"emotion\":\"cheerful\",\"topics\":[\"food\"],\"avg_length\":\"short\"}\n```"}
	got, err := NewSummarizer(llm).Summarize(context.Background(), "小红", sampleMessages())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Style != "playful" || got.AvgLength != "short" || len(got.Topics) != 1 {
		t.Fatalf("unexpected summary: %#v", got)
	}
	if llm.req.Config.ResponseMIMEType != "application/json" {
		t.Fatalf("expected json response format")
	}
}

func TestSummarizeFallsBack(t *testing.T) {
	got, err := NewSummarizer(&fakeLLM{err: errors.New("quota exceeded")}).Summarize(context.Background(), "小红", sampleMessages())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !reflect.DeepEqual(got, FallbackSummary) {
		t.Fatalf("expected fallback summary, got %#v", got)
	}

	got, err = NewSummarizer(&fakeLLM{reply: "not json"}).Summarize(context.Background(), "小红", sampleMessages())
	if err == nil || got.Style != "unknown" {
		t.Fatalf("expected fallback on unparsable output, got %#v %v", got, err)
	}
}
