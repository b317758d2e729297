package utils

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// Tokenize splits text into lowercase ASCII words of two or more characters
// and bigrams of non-ASCII letter runs. A lone non-ASCII letter is kept as is.
// Word boundaries follow Unicode text segmentation, so "what's" and "3.14"
// stay whole. Han text has no boundaries beyond single ideographs, which is
// why consecutive letters are joined into runs and bigrammed.
func Tokenize(text string) []string {
	var tokens []string
	var word []rune
	var run []rune

	flushWord := func() {
		if len(word) >= 2 {
			tokens = append(tokens, string(word))
		}
		word = word[:0]
	}
	flushRun := func() {
		switch {
		case len(run) == 1:
			tokens = append(tokens, string(run))
		case len(run) > 1:
			for i := 0; i+1 < len(run); i++ {
				tokens = append(tokens, string(run[i:i+2]))
			}
		}
		run = run[:0]
	}

	rest := strings.ToLower(text)
	state := -1
	var segment string
	for len(rest) > 0 {
		segment, rest, state = uniseg.FirstWordInString(rest, state)
		for _, r := range segment {
			switch {
			case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
				flushRun()
				word = append(word, r)
			case (r == '\'' || r == '.') && len(word) > 0:
				// Only reachable mid-word: segmentation splits trailing punctuation off.
				word = append(word, r)
			case r > unicode.MaxASCII && unicode.IsLetter(r):
				flushWord()
				run = append(run, r)
			default:
				flushWord()
				flushRun()
			}
		}
		flushWord()
	}
	flushRun()
	return tokens
}
