package classifier

import (
	"strings"
	"unicode"
)

// Clean normalizes text before vectorizing: carriage returns are dropped,
// newlines become spaces, letters are lowercased, ASCII punctuation is
// removed and runs of whitespace collapse to one space.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if isASCIIPunct(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

func isASCIIPunct(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsPunct(r) || strings.ContainsRune("$+<=>^`|~", r)
}

// Tokenize splits cleaned text into word tokens of at least two letters,
// digits or underscores.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// ngrams expands tokens into space-joined n-grams for n in [min, max].
func ngrams(tokens []string, min, max int) []string {
	if min <= 1 && max <= 1 {
		return tokens
	}
	if min < 1 {
		min = 1
	}
	var out []string
	for n := min; n <= max; n++ {
		if n == 1 {
			out = append(out, tokens...)
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
