package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Provider runs a text search. Implementations return an error on any
// failure; the Gatherer handles retries and degradation.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int, region string) ([]RawHit, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string, maxResults int, region string) ([]RawHit, error)

// Search calls f.
func (f ProviderFunc) Search(ctx context.Context, query string, maxResults int, region string) ([]RawHit, error) {
	return f(ctx, query, maxResults, region)
}

const maxSearchBody = 1 << 20

// DuckDuckGo searches the DuckDuckGo HTML endpoint and parses its result list.
type DuckDuckGo struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

// NewDuckDuckGo returns a provider for endpoint using client.
func NewDuckDuckGo(endpoint, userAgent string, client *http.Client) *DuckDuckGo {
	if client == nil {
		client = http.DefaultClient
	}
	return &DuckDuckGo{Endpoint: endpoint, UserAgent: userAgent, Client: client}
}

// Search implements Provider. Hits carry "title", "href" and "body" keys.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int, region string) ([]RawHit, error) {
	params := url.Values{}
	params.Set("q", query)
	if region != "" {
		params.Set("kl", region)
	}
	searchURL := d.Endpoint
	if strings.Contains(searchURL, "?") {
		searchURL += "&" + params.Encode()
	} else {
		searchURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ar,en-US;q=0.7,en;q=0.5")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// DuckDuckGo answers 202 with an empty page when it throttles.
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return parseDuckDuckGoResults(doc, maxResults), nil
}

// parseDuckDuckGoResults collects result blocks (class "result") in document order.
func parseDuckDuckGoResults(doc *html.Node, maxResults int) []RawHit {
	var hits []RawHit

	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if maxResults > 0 && len(hits) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if hit := extractResult(n); hit["href"] != "" {
				hits = append(hits, hit)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)

	return hits
}

func extractResult(n *html.Node) RawHit {
	hit := RawHit{}

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				hit["href"] = cleanRedirect(getAttr(n, "href"))
				hit["title"] = getTextContent(n)
			case hasClass(n, "result__snippet"):
				hit["body"] = getTextContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	return hit
}

// cleanRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func cleanRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
