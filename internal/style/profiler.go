// Package style derives descriptive statistics from a persona's messages.
package style

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/types"
	"github.com/easeaico/second-self/internal/utils"
)

const (
	defaultTopN   = 10
	patternWindow = 3
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "you": {}, "to": {}, "is": {}, "it": {}, "of": {},
	"in": {}, "that": {}, "for": {}, "on": {}, "me": {}, "my": {}, "so": {},
	"be": {}, "do": {}, "at": {}, "this": {}, "are": {}, "was": {},
}

// Chinese function characters; bigrams containing one are not vocabulary.
var stopChars = map[rune]struct{}{
	'的': {}, '了': {}, '是': {}, '我': {}, '你': {}, '在': {}, '吗': {}, '啊': {}, '吧': {},
}

// Profiler computes PersonaStyleProfile values. It holds no state between calls.
type Profiler struct {
	lexicon emotion.Lexicon
	topN    int
}

// NewProfiler returns a Profiler reporting the topN entries of each ranking.
func NewProfiler(lex emotion.Lexicon, topN int) *Profiler {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Profiler{lexicon: lex, topN: topN}
}

// Profile summarizes messages. No messages yields a profile with Empty set.
func (p *Profiler) Profile(personaID string, messages []types.Message) types.PersonaStyleProfile {
	if len(messages) == 0 {
		return types.PersonaStyleProfile{PersonaID: personaID, Empty: true}
	}

	emoji := make(map[string]int)
	patterns := make(map[string]int)
	words := make(map[string]int)
	hours := make(map[int]int)
	contents := make([]string, 0, len(messages))
	totalLen := 0

	for _, m := range messages {
		totalLen += utf8.RuneCountInString(m.Content)
		contents = append(contents, m.Content)
		hours[m.Timestamp.Hour()]++

		gr := uniseg.NewGraphemes(m.Content)
		for gr.Next() {
			if cluster := gr.Str(); isEmoji(cluster) {
				emoji[cluster]++
			}
		}

		for _, pat := range sentencePatterns(m.Content) {
			patterns[pat]++
		}

		for _, tok := range utils.Tokenize(m.Content) {
			if isVocabulary(tok) {
				words[tok]++
			}
		}
	}

	return types.PersonaStyleProfile{
		PersonaID:             personaID,
		MessageCount:          len(messages),
		AvgMessageLength:      float64(totalLen) / float64(len(messages)),
		EmojiProfile:          topCounts(emoji, p.topN),
		SentencePatterns:      topCounts(patterns, p.topN),
		FrequentWords:         rankKeys(words, p.topN),
		EmotionalDistribution: p.lexicon.Distribution(contents),
		PeakActivityHour:      peakHour(hours),
	}
}

// isEmoji accepts clusters outside printable ASCII that carry no letters,
// digits or punctuation, so CJK text is not counted.
func isEmoji(cluster string) bool {
	hasSymbol := false
	for _, r := range cluster {
		switch {
		case r >= 0x20 && r <= 0x7E:
			return false
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSpace(r):
			return false
		case unicode.IsSymbol(r), r >= 0x1F000 && r <= 0x1FAFF:
			hasSymbol = true
		}
	}
	return hasSymbol
}

// sentencePatterns returns the leading and trailing windows of a message,
// written as "abc..." and "...xyz".
func sentencePatterns(content string) []string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) < patternWindow {
		return nil
	}
	head := string(runes[:patternWindow]) + "..."
	tail := "..." + string(runes[len(runes)-patternWindow:])
	return []string{head, tail}
}

func isVocabulary(tok string) bool {
	if _, ok := stopWords[tok]; ok {
		return false
	}
	for _, r := range tok {
		if _, ok := stopChars[r]; ok {
			return false
		}
	}
	return utf8.RuneCountInString(tok) >= 2
}

// peakHour is the most frequent hour, ties resolved to the lowest hour.
func peakHour(hours map[int]int) int {
	best, bestCount := -1, 0
	for h := 0; h < 24; h++ {
		if hours[h] > bestCount {
			best, bestCount = h, hours[h]
		}
	}
	return best
}

// rankKeys orders keys by count descending, then lexically.
func rankKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func topCounts(counts map[string]int, n int) map[string]int {
	out := make(map[string]int, min(len(counts), n))
	for _, k := range rankKeys(counts, n) {
		out[k] = counts[k]
	}
	return out
}
