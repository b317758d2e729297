// Package emotion classifies message tone with a fixed word and emoji lexicon.
package emotion

import (
	"strings"
	"unicode"

	"github.com/easeaico/second-self/internal/types"
)

// Lexicon holds the marker sets used for tone and question detection.
// ASCII entries match whole tokens; every other entry matches as a substring.
type Lexicon struct {
	Positive        []string
	Negative        []string
	QuestionMarkers []string
}

// DefaultLexicon covers Chinese, English and common emoji.
var DefaultLexicon = Lexicon{
	Positive: []string{
		"好", "哈哈", "开心", "高兴", "喜欢", "棒", "爱", "谢谢",
		"😊", "😄", "😂", "❤️", "👍", "🥰",
		"good", "great", "love", "happy", "lol", "haha", "thanks", "nice", "awesome",
	},
	Negative: []string{
		"不", "难过", "生气", "讨厌", "烦", "累", "哭",
		"😔", "😢", "😡", "😭", "💔",
		"bad", "sad", "angry", "hate", "tired", "upset", "sorry", "awful",
	},
	QuestionMarkers: []string{
		"？", "?", "吗", "呢", "么", "哪", "什么", "怎么", "为什么",
		"what", "why", "how", "when", "where", "who",
	},
}

// Classify labels text positive or negative when exactly one side matches.
func (l Lexicon) Classify(text string) types.Emotion {
	lower := strings.ToLower(text)
	tokens := tokenSet(lower)
	pos := containsAny(lower, tokens, l.Positive)
	neg := containsAny(lower, tokens, l.Negative)
	switch {
	case pos && !neg:
		return types.EmotionPositive
	case neg && !pos:
		return types.EmotionNegative
	default:
		return types.EmotionNeutral
	}
}

// IsQuestion reports whether text carries an interrogative marker.
func (l Lexicon) IsQuestion(text string) bool {
	lower := strings.ToLower(text)
	return containsAny(lower, tokenSet(lower), l.QuestionMarkers)
}

// Classify uses DefaultLexicon.
func Classify(text string) types.Emotion {
	return DefaultLexicon.Classify(text)
}

// IsQuestion uses DefaultLexicon.
func IsQuestion(text string) bool {
	return DefaultLexicon.IsQuestion(text)
}

// Distribution normalizes label counts of texts into ratios summing to 1.
// It returns nil for no input.
func (l Lexicon) Distribution(texts []string) map[types.Emotion]float64 {
	if len(texts) == 0 {
		return nil
	}
	counts := make(map[types.Emotion]int, len(types.Emotions))
	for _, text := range texts {
		counts[l.Classify(text)]++
	}
	dist := make(map[types.Emotion]float64, len(types.Emotions))
	for _, label := range types.Emotions {
		dist[label] = float64(counts[label]) / float64(len(texts))
	}
	return dist
}

func containsAny(lower string, tokens map[string]struct{}, markers []string) bool {
	for _, marker := range markers {
		m := strings.ToLower(marker)
		if m == "" {
			continue
		}
		if isASCIIWord(m) {
			if _, ok := tokens[m]; ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func tokenSet(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
