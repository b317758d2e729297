package style

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/types"
	"github.com/easeaico/second-self/internal/utils"
)

const (
	maxReplyGap      = time.Hour
	maxTopicPreviews = 5
	topicPreviewLen  = 20
)

// Analyzer produces ConversationPatterns from a persona's history.
// It only reads messages.
type Analyzer struct {
	lexicon emotion.Lexicon
}

func NewAnalyzer(lex emotion.Lexicon) *Analyzer {
	return &Analyzer{lexicon: lex}
}

// Analyze looks at the latest sampleSize messages; sampleSize <= 0 means all.
func (a *Analyzer) Analyze(messages []types.Message, sampleSize int) types.ConversationPatterns {
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if sampleSize > 0 && len(msgs) > sampleSize {
		msgs = msgs[len(msgs)-sampleSize:]
	}

	contents := make([]string, len(msgs))
	for i, m := range msgs {
		contents[i] = m.Content
	}

	return types.ConversationPatterns{
		ResponsePatterns:  responsePatterns(msgs),
		TopicTransitions:  a.topicTransitions(msgs),
		EmotionalPatterns: a.lexicon.Distribution(contents),
		TimePatterns:      timePatterns(msgs),
	}
}

func responsePatterns(msgs []types.Message) types.ResponsePatterns {
	rp := types.ResponsePatterns{MessageCount: len(msgs)}
	if len(msgs) == 0 {
		return rp
	}

	total := 0
	for _, m := range msgs {
		total += utf8.RuneCountInString(m.Content)
	}
	rp.AverageMessageLength = float64(total) / float64(len(msgs))

	var gaps time.Duration
	pairs := 0
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Sender == msgs[i-1].Sender {
			continue
		}
		gap := msgs[i].Timestamp.Sub(msgs[i-1].Timestamp)
		if gap <= 0 || gap >= maxReplyGap {
			continue
		}
		gaps += gap
		pairs++
	}
	if pairs > 0 {
		rp.AverageResponseTimeSeconds = gaps.Seconds() / float64(pairs)
	}
	return rp
}

func (a *Analyzer) topicTransitions(msgs []types.Message) []string {
	var topics []string
	for _, m := range msgs {
		if len(topics) == maxTopicPreviews {
			break
		}
		if a.lexicon.IsQuestion(m.Content) {
			topics = append(topics, utils.Preview(m.Content, topicPreviewLen))
		}
	}
	return topics
}

func timePatterns(msgs []types.Message) types.TimePatterns {
	hours := make(map[int]int)
	for _, m := range msgs {
		hours[m.Timestamp.Hour()]++
	}
	tp := types.TimePatterns{
		PeakHour:           peakHour(hours),
		PeakActivityPeriod: "unknown",
		HourDistribution:   hours,
	}
	if tp.PeakHour >= 0 {
		tp.PeakActivityPeriod = fmt.Sprintf("%02d:00-%02d:00", tp.PeakHour, (tp.PeakHour+1)%24)
	}
	return tp
}
