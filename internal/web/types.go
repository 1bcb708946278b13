package web

import (
	"errors"
	"strings"
)

var (
	// ErrSearchUnavailable means every search attempt failed.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrFetchFailed means a single page could not be fetched or parsed.
	ErrFetchFailed = errors.New("fetch failed")
)

// Result is a search hit projected onto the fields the core uses.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Page is a result together with its fetched plain text.
type Page struct {
	Result
	Text string `json:"text"`
}

// RawHit is a provider result under whatever keys the provider uses.
type RawHit map[string]string

// Adapt projects a raw hit onto Result. The URL comes from "href" or "url",
// the snippet from "body" or "snippet", and the title falls back to the URL.
func Adapt(raw RawHit) Result {
	url := firstNonEmpty(raw["href"], raw["url"], raw["link"])
	return Result{
		Title:   firstNonEmpty(raw["title"], url),
		URL:     url,
		Snippet: firstNonEmpty(raw["body"], raw["snippet"]),
	}
}

// AdaptAll adapts raw hits, dropping those without a URL, and keeps at most max.
func AdaptAll(raw []RawHit, max int) []Result {
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		res := Adapt(r)
		if res.URL == "" {
			continue
		}
		out = append(out, res)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
