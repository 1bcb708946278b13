package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Clitics that may be attached to an Arabic keyword, in folded form. Longer
// prefixes come first so "بال" is tried before "ب".
var (
	cliticPrefixes = []string{"وال", "فال", "بال", "كال", "لل", "ال", "و", "ف", "ب", "ل"}
	cliticSuffixes = []string{"ها", "ات", "ي", "ه"}
)

// minStemRunes keeps clitic stripping from reducing a token to nothing.
const minStemRunes = 2

// MatchesKeyword reports whether the folded token tok is the folded keyword
// kw. Latin keywords must equal the token. Arabic keywords may also carry
// one attached prefix (ال، و، ب، ل، ف and their combinations) and one
// suffix (ي، ه، ها، ات); a keyword ending in ta marbuta also matches its
// ت form before a suffix ("صفحه" matches "صفحتي" and "صفحات").
func MatchesKeyword(tok, kw string) bool {
	if tok == kw {
		return true
	}
	if kw == "" || !isArabic(kw) {
		return false
	}
	base, marbuta := strings.CutSuffix(kw, "ه")
	for _, p := range append([]string{""}, cliticPrefixes...) {
		rest, ok := strings.CutPrefix(tok, p)
		if !ok {
			continue
		}
		for _, s := range append([]string{""}, cliticSuffixes...) {
			stem, ok := strings.CutSuffix(rest, s)
			if !ok || utf8.RuneCountInString(stem) < minStemRunes {
				continue
			}
			if stem == kw {
				return true
			}
			if marbuta && ((s == "ات" && stem == base) || (s != "" && s != "ات" && stem == base+"ت")) {
				return true
			}
		}
	}
	return false
}

// ContainsKeyword reports whether tokens contain kw. A keyword of several
// words must appear as a contiguous run, each word matched by MatchesKeyword.
func ContainsKeyword(tokens []string, kw string) bool {
	words := strings.Fields(kw)
	if len(words) == 0 || len(words) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(words) <= len(tokens); i++ {
		for j, w := range words {
			if !MatchesKeyword(tokens[i+j], w) {
				continue outer
			}
		}
		return true
	}
	return false
}

func isArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}
