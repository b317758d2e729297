// Package retrieval finds the historical messages of a persona that are most
// relevant to a user utterance by combining several scoring strategies.
package retrieval

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/easeaico/second-self/internal/emotion"
	"github.com/easeaico/second-self/internal/types"
	"github.com/easeaico/second-self/internal/utils"
)

// Index is the read-only lookup state of one persona. It is never mutated
// after BuildIndex returns; refreshes build a new Index and swap it in.
type Index struct {
	PersonaID string
	BuiltAt   time.Time

	messages []types.Message
	lowered  []string
	senders  []string
	postings map[string][]int
	patterns []patternPair
	emotions map[types.Emotion][]int
	embedded int
}

type patternPair struct {
	question int
	response int
	tokens   map[string]struct{}
}

// BuildIndex indexes messages sorted oldest first.
func BuildIndex(personaID string, messages []types.Message, lex emotion.Lexicon) *Index {
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	idx := &Index{
		PersonaID: personaID,
		BuiltAt:   time.Now(),
		messages:  msgs,
		lowered:   make([]string, len(msgs)),
		senders:   make([]string, len(msgs)),
		postings:  make(map[string][]int),
		emotions:  make(map[types.Emotion][]int),
	}

	for i := range msgs {
		if msgs[i].Emotion == "" {
			msgs[i].Emotion = lex.Classify(msgs[i].Content)
		}
		idx.lowered[i] = strings.ToLower(msgs[i].Content)
		idx.senders[i] = strings.ToLower(msgs[i].Sender)
		for tok := range tokenSet(msgs[i].Content) {
			idx.postings[tok] = append(idx.postings[tok], i)
		}
		idx.emotions[msgs[i].Emotion] = append(idx.emotions[msgs[i].Emotion], i)
		if len(msgs[i].Embedding) > 0 {
			idx.embedded++
		}
	}

	for i := 0; i+1 < len(msgs); i++ {
		q, r := msgs[i], msgs[i+1]
		if q.Sender == r.Sender || strings.TrimSpace(r.Content) == "" || !lex.IsQuestion(q.Content) {
			continue
		}
		idx.patterns = append(idx.patterns, patternPair{
			question: i,
			response: i + 1,
			tokens:   tokenSet(q.Content),
		})
	}

	return idx
}

// Len is the number of indexed messages.
func (idx *Index) Len() int {
	return len(idx.messages)
}

// Message returns the i-th message, oldest first.
func (idx *Index) Message(i int) types.Message {
	return idx.messages[i]
}

// HasEmbeddings reports whether any message carries a vector.
func (idx *Index) HasEmbeddings() bool {
	return idx.embedded > 0
}

// PatternCount is the size of the question to response bank.
func (idx *Index) PatternCount() int {
	return len(idx.patterns)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range utils.Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// queryTerms splits a query on whitespace and punctuation for substring matching.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}
