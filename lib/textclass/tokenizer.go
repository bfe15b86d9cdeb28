package textclass

import (
	"iter"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tokenizer splits text into lowercased word tokens. The same Tokenizer must be used for training and
// inference, otherwise vocabulary indices won't line up. Zero value is ready to use.
type Tokenizer struct {
	MinLen int `json:"min_len"` // minimal token length in runes, values below 1 mean 1
}

// Tokens returns a lazy sequence of tokens extracted from text. The sequence can be iterated multiple times,
// each iteration tokenizes the text again. Tokens are runs of word characters (letters, digits, marks and underscore)
// taken from the lowercased text.
func (t Tokenizer) Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		// cases.Caser is stateful and can't be shared between goroutines, make a new one for each pass
		lower := cases.Lower(language.Und).String(text)
		start := -1
		for i, r := range lower {
			if isWordRune(r) {
				if start < 0 {
					start = i
				}
				continue
			}
			if start >= 0 {
				if !t.emit(lower[start:i], yield) {
					return
				}
				start = -1
			}
		}
		if start >= 0 {
			t.emit(lower[start:], yield)
		}
	}
}

// Split returns all tokens of the text as a slice
func (t Tokenizer) Split(text string) []string {
	res := []string{}
	for token := range t.Tokens(text) {
		res = append(res, token)
	}
	return res
}

func (t Tokenizer) emit(token string, yield func(string) bool) bool {
	if token == "" || utf8.RuneCountInString(token) < t.minLen() {
		return true // skipped, keep going
	}
	return yield(token)
}

func (t Tokenizer) minLen() int {
	if t.MinLen < 1 {
		return 1
	}
	return t.MinLen
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r)
}
