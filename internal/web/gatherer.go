package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const maxPageBody = 2 << 20

// Options configures a Gatherer.
type Options struct {
	Regions          []string
	Retries          int
	Backoff          time.Duration
	Timeout          time.Duration
	MaxFetchChars    int
	FetchConcurrency int
	UserAgent        string
	WikiEndpoint     string
	Client           *http.Client
	Logger           *zap.Logger
}

// Gatherer fetches fresh evidence from the web. None of its methods return
// errors: failures are logged and surface as empty results.
type Gatherer struct {
	provider Provider
	opts     Options
	client   *http.Client
	logger   *zap.Logger
	region   atomic.Uint64
	sleep    func(context.Context, time.Duration) bool
}

// NewGatherer returns a Gatherer searching through provider.
func NewGatherer(provider Provider, opts Options) *Gatherer {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 1
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gatherer{
		provider: provider,
		opts:     opts,
		client:   opts.Client,
		logger:   opts.Logger,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (g *Gatherer) nextRegion() string {
	if len(g.opts.Regions) == 0 {
		return ""
	}
	i := g.region.Add(1) - 1
	return g.opts.Regions[i%uint64(len(g.opts.Regions))]
}

// Search queries the provider up to Retries times, doubling the backoff
// between attempts and moving to the next region each time. Results without
// a URL are dropped. After the last failed attempt it returns nil.
func (g *Gatherer) Search(ctx context.Context, q string, maxResults int) []Result {
	q = strings.TrimSpace(q)
	if q == "" || g.provider == nil {
		return nil
	}

	var lastErr error
	delay := g.opts.Backoff
	for attempt := 1; attempt <= g.opts.Retries; attempt++ {
		region := g.nextRegion()
		raw, err := g.searchOnce(ctx, q, maxResults, region)
		if err == nil {
			results := AdaptAll(raw, maxResults)
			g.logger.Debug("Web search completed",
				zap.String("query", q),
				zap.String("region", region),
				zap.Int("attempt", attempt),
				zap.Int("results", len(results)),
			)
			return results
		}
		lastErr = err
		g.logger.Debug("Web search attempt failed",
			zap.String("query", q),
			zap.String("region", region),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < g.opts.Retries {
			if !g.sleep(ctx, delay) {
				break
			}
			delay *= 2
		}
	}

	g.logger.Warn("Web search failed",
		zap.String("query", q),
		zap.Error(fmt.Errorf("%w: %w", ErrSearchUnavailable, lastErr)),
	)
	return nil
}

func (g *Gatherer) searchOnce(ctx context.Context, q string, maxResults int, region string) (raw []RawHit, err error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return g.provider.Search(ctx, q, maxResults, region)
}

// FetchText downloads pageURL and returns its visible text cut to maxChars
// characters, or "" on any failure.
func (g *Gatherer) FetchText(ctx context.Context, pageURL string, maxChars int) string {
	doc, _, err := g.fetchDocument(ctx, pageURL)
	if err != nil {
		g.logger.Debug("Page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return truncateRunes(nodeText(doc), maxChars)
}

func (g *Gatherer) fetchDocument(ctx context.Context, pageURL string) (*html.Node, *url.URL, error) {
	if pageURL == "" {
		return nil, nil, fmt.Errorf("%w: empty url", ErrFetchFailed)
	}
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", g.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return doc, resp.Request.URL, nil
}

// FetchAll fetches the first n results that have a URL, a few at a time.
// Pages come back in result order; failed or empty fetches are left out.
func (g *Gatherer) FetchAll(ctx context.Context, results []Result, n int) []Page {
	var targets []Result
	for _, r := range results {
		if len(targets) >= n {
			break
		}
		if r.URL != "" {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	texts := make([]string, len(targets))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.FetchConcurrency)
	for i, r := range targets {
		i, r := i, r
		eg.Go(func() error {
			texts[i] = g.FetchText(egCtx, r.URL, g.opts.MaxFetchChars)
			return nil
		})
	}
	_ = eg.Wait()

	pages := make([]Page, 0, len(targets))
	for i, r := range targets {
		if texts[i] != "" {
			pages = append(pages, Page{Result: r, Text: texts[i]})
		}
	}
	return pages
}

type wikiSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// WikiFallback asks the encyclopedia summary endpoint for q and returns the
// single-paragraph extract. The zero Page means nothing was found.
func (g *Gatherer) WikiFallback(ctx context.Context, q string) Page {
	q = strings.TrimSpace(q)
	if q == "" || g.opts.WikiEndpoint == "" {
		return Page{}
	}
	page, err := g.wiki(ctx, q)
	if err != nil {
		g.logger.Debug("Wiki fallback failed", zap.String("query", q), zap.Error(err))
		return Page{}
	}
	return page
}

func (g *Gatherer) wiki(ctx context.Context, q string) (Page, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(g.opts.WikiEndpoint, "/") + "/" + url.PathEscape(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", g.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var summary wikiSummary
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBody)).Decode(&summary); err != nil {
		return Page{}, err
	}
	text := strings.Join(strings.Fields(summary.Extract), " ")
	if text == "" {
		return Page{}, errors.New("empty extract")
	}
	return Page{
		Result: Result{Title: firstNonEmpty(summary.Title, q), URL: summary.ContentURLs.Desktop.Page},
		Text:   truncateRunes(text, g.opts.MaxFetchChars),
	}, nil
}
