// Package intent routes a user message to one of the pipeline branches using
// ordered keyword banks.
package intent

import (
	"strings"
	"unicode/utf8"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
)

// Intent is the primary label of a message.
type Intent string

const (
	SmallTalk Intent = "small_talk"
	Project   Intent = "project"
	Code      Intent = "code"
	Info      Intent = "info"
)

// smallTalkSlack is how many tokens beyond the phrase a message may carry
// and still count as small talk, provided none of them is a project or code
// keyword.
const smallTalkSlack = 2

// minLearnChars is the shortest text ShouldLearn accepts.
const minLearnChars = 30

// Flags are auxiliary observations made while classifying.
type Flags struct {
	Question bool   `json:"question"`
	Keyword  string `json:"keyword,omitempty"`
	Tokens   int    `json:"tokens"`
}

// Result is the outcome of Classify. Reply is set for small talk only.
type Result struct {
	Intent Intent `json:"intent"`
	Reply  string `json:"reply,omitempty"`
	Flags  Flags  `json:"flags"`
}

type phrase struct {
	tokens []string
	reply  string
}

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	norm         *textnorm.Normalizer
	smallTalk    []phrase
	project      []string
	code         []string
	errorMarkers []string
}

// New prepares the pattern banks from the lexicon, normalizing every entry
// the same way messages are normalized.
func New(norm *textnorm.Normalizer, lex *config.Lexicon) *Classifier {
	c := &Classifier{norm: norm}
	for _, entry := range lex.SmallTalk {
		if toks := norm.Tokens(entry.Phrase); len(toks) > 0 {
			c.smallTalk = append(c.smallTalk, phrase{tokens: toks, reply: entry.Reply})
		}
	}
	c.project = normalizeKeywords(norm, lex.ProjectKeywords)
	c.code = normalizeKeywords(norm, lex.CodeKeywords)
	for _, m := range lex.ErrorMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			c.errorMarkers = append(c.errorMarkers, m)
		}
	}
	return c
}

func normalizeKeywords(norm *textnorm.Normalizer, words []string) []string {
	var out []string
	for _, w := range words {
		if n := norm.Normalize(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Classify labels text. Banks are tried in order small talk, project, code;
// the first hit wins and anything else is an information request. A greeting
// that comes with a project or code keyword is not small talk.
func (c *Classifier) Classify(text string) Result {
	tokens := c.norm.Tokens(text)
	folded := textnorm.Fold(text)
	res := Result{
		Intent: Info,
		Flags: Flags{
			Question: strings.HasSuffix(folded, "?") || strings.HasSuffix(folded, "؟"),
			Tokens:   len(tokens),
		},
	}
	if len(tokens) == 0 {
		return res
	}

	projectKw, projectHit := matchKeyword(tokens, c.project)
	codeKw, codeHit := matchKeyword(tokens, c.code)
	if !projectHit && !codeHit {
		for _, p := range c.smallTalk {
			if len(tokens) <= len(p.tokens)+smallTalkSlack && containsRun(tokens, p.tokens) {
				res.Intent = SmallTalk
				res.Reply = p.reply
				res.Flags.Keyword = strings.Join(p.tokens, " ")
				return res
			}
		}
	}
	switch {
	case projectHit:
		res.Intent = Project
		res.Flags.Keyword = projectKw
	case codeHit:
		res.Intent = Code
		res.Flags.Keyword = codeKw
	}
	return res
}

// ShouldLearn reports whether text is worth storing: at least 30 characters
// and free of error markers.
func (c *Classifier) ShouldLearn(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minLearnChars {
		return false
	}
	return !c.HasErrorMarker(text)
}

// HasErrorMarker reports whether text contains any configured error marker.
func (c *Classifier) HasErrorMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range c.errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// containsRun reports whether needle occurs as a contiguous run in haystack.
func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// matchKeyword returns the first keyword found among tokens. Latin keywords
// must equal a token; Arabic ones may carry attached clitics.
func matchKeyword(tokens, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if textnorm.ContainsKeyword(tokens, kw) {
			return kw, true
		}
	}
	return "", false
}
