package server

import (
	"iter"
	"unicode"
)

// Chunks splits text into pieces of at most maxWords words each. Whitespace
// is kept with the preceding word, so concatenating the pieces yields text
// unchanged. Empty text yields nothing.
func Chunks(text string, maxWords int) iter.Seq[string] {
	if maxWords < 1 {
		maxWords = 1
	}

	return func(yield func(string) bool) {
		start, words := 0, 0
		inWord := false
		for i, r := range text {
			if unicode.IsSpace(r) {
				inWord = false
				continue
			}
			if inWord {
				continue
			}

			inWord = true
			if words == maxWords {
				if !yield(text[start:i]) {
					return
				}
				start, words = i, 0
			}
			words++
		}

		if start < len(text) {
			yield(text[start:])
		}
	}
}
