// Package summarize implements the extractive summarizer used for replies
// and by the learning loop.
package summarize

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	MinSentenceChars = 20
	MaxSentenceChars = 240
	PrefixKeyChars   = 40
)

// SplitSentences splits blob on '.' and trims each piece. Empty pieces are dropped.
func SplitSentences(blob string) []string {
	var out []string
	for _, part := range strings.Split(blob, ".") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Summarize returns at most maxLines sentences from texts. Sentences must be
// strictly between 20 and 240 characters long; of those sharing a
// 40-character prefix only the first is kept. The survivors are ordered
// longest first, keeping input order among equal lengths.
func Summarize(texts []string, maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var candidates []string
	for _, blob := range texts {
		for _, sent := range SplitSentences(blob) {
			n := utf8.RuneCountInString(sent)
			if n <= MinSentenceChars || n >= MaxSentenceChars {
				continue
			}
			key := prefix(sent, PrefixKeyChars)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, sent)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return utf8.RuneCountInString(candidates[i]) > utf8.RuneCountInString(candidates[j])
	})

	if len(candidates) > maxLines {
		candidates = candidates[:maxLines]
	}
	return candidates
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
