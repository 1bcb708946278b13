package web

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// queueFactor bounds the BFS frontier relative to maxPages.
const queueFactor = 3

// Crawler walks a site breadth-first, staying within the seed's registered
// domain (so www.example.com and docs.example.com belong together).
type Crawler struct {
	gatherer *Gatherer
}

// NewCrawler returns a crawler that fetches through g.
func NewCrawler(g *Gatherer) *Crawler {
	return &Crawler{gatherer: g}
}

// Crawl visits at most maxPages pages starting at seed and returns those with
// text, in visit order. URLs are visited once.
func (c *Crawler) Crawl(ctx context.Context, seed string, maxPages int) []Page {
	if maxPages <= 0 {
		return nil
	}
	seedURL, err := url.Parse(seed)
	if err != nil || seedURL.Host == "" {
		c.gatherer.logger.Warn("Invalid crawl seed", zap.String("seed", seed))
		return nil
	}
	domain := registeredDomain(seedURL.Hostname())

	seen := map[string]bool{}
	queued := map[string]bool{seed: true}
	queue := []string{seed}
	var pages []Page

	for len(queue) > 0 && len(pages) < maxPages {
		if ctx.Err() != nil {
			break
		}
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true

		doc, finalURL, err := c.gatherer.fetchDocument(ctx, next)
		if err != nil {
			c.gatherer.logger.Debug("Crawl fetch failed", zap.String("url", next), zap.Error(err))
			continue
		}
		if text := truncateRunes(nodeText(doc), c.gatherer.opts.MaxFetchChars); text != "" {
			pages = append(pages, Page{Result: Result{Title: next, URL: next}, Text: text})
		}

		for _, link := range extractLinks(doc, finalURL) {
			if len(queue) >= maxPages*queueFactor {
				break
			}
			if seen[link] || queued[link] {
				continue
			}
			u, err := url.Parse(link)
			if err != nil || registeredDomain(u.Hostname()) != domain {
				continue
			}
			queued[link] = true
			queue = append(queue, link)
		}
	}

	c.gatherer.logger.Info("Crawl finished",
		zap.String("seed", seed),
		zap.Int("pages", len(pages)),
	)
	return pages
}

// registeredDomain returns the eTLD+1 of host, or the host itself when it
// has none (IP addresses, localhost).
func registeredDomain(host string) string {
	host = strings.ToLower(host)
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
