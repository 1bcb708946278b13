// Package textnorm folds Arabic text into the comparable form shared by the
// memory index, the intent classifier and the learning loop.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const tatweel = 'ـ'

var letterFolds = map[rune]rune{
	'أ': 'ا',
	'إ': 'ا',
	'آ': 'ا',
	'ة': 'ه',
	'ى': 'ي',
}

// Normalizer is safe for concurrent use; its stopword set never changes
// after construction.
type Normalizer struct {
	stopwords map[string]struct{}
}

// New builds a Normalizer. Stopwords are folded the same way as input text so
// that "إلى" and "الى" are both dropped.
func New(stopwords []string) *Normalizer {
	n := &Normalizer{stopwords: make(map[string]struct{}, len(stopwords))}
	for _, w := range stopwords {
		for _, tok := range strings.Fields(Fold(w)) {
			n.stopwords[tok] = struct{}{}
		}
	}
	return n
}

// Fold lowercases s, strips diacritics and tatweel, and maps the alif,
// ta-marbuta and alif-maksura variants onto their base letters.
// Punctuation and whitespace are left alone.
func Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == tatweel || unicode.Is(unicode.Mn, r) {
			continue
		}
		if folded, ok := letterFolds[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokens returns the normalized tokens of s in order.
func (n *Normalizer) Tokens(s string) []string {
	folded := Fold(s)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, folded)

	fields := strings.Fields(cleaned)
	out := fields[:0]
	for _, tok := range fields {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, stop := n.stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Normalize returns the tokens of s joined by single spaces.
// Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(s string) string {
	return strings.Join(n.Tokens(s), " ")
}
