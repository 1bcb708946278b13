package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const ddgPage = `<html><body>
<div class="results">
  <div class="result results_links web-result">
    <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Ftcp&rut=abc">ما هو <b>TCP</b></a></h2>
    <a class="result__snippet" href="#">بروتوكول التحكم في الإرسال</a>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://example.net/ip">IP</a></h2>
  </div>
  <div class="result results_links web-result">
    <span>no link here</span>
  </div>
</div>
</body></html>`

func newTestGatherer(provider Provider, opts Options) *Gatherer {
	opts.Logger = zap.NewNop()
	g := NewGatherer(provider, opts)
	g.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	return g
}

func TestAdapt(t *testing.T) {
	assert.Equal(t, Result{Title: "t", URL: "https://a", Snippet: "b"}, Adapt(RawHit{"title": "t", "href": "https://a", "body": "b"}))
	assert.Equal(t, Result{Title: "https://u", URL: "https://u", Snippet: "s"}, Adapt(RawHit{"url": "https://u", "snippet": "s"}))

	results := AdaptAll([]RawHit{{"title": "no url"}, {"href": "https://1"}, {"href": "https://2"}, {"href": "https://3"}}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "https://1", results[0].URL)
}

func TestSearchRetriesAcrossRegions(t *testing.T) {
	var regions []string
	provider := ProviderFunc(func(ctx context.Context, q string, max int, region string) ([]RawHit, error) {
		regions = append(regions, region)
		if len(regions) < 3 {
			return nil, errors.New("throttled")
		}
		return []RawHit{{"title": "TCP", "href": "https://example.org/tcp"}}, nil
	})

	g := newTestGatherer(provider, Options{Regions: []string{"xa-ar", "wt-wt", "us-en"}, Retries: 3, Backoff: 10 * time.Millisecond})
	var delays []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	results := g.Search(context.Background(), "ما هو TCP", 6)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"xa-ar", "wt-wt", "us-en"}, regions)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestSearchGivesUpQuietly(t *testing.T) {
	var calls int
	provider := ProviderFunc(func(ctx context.Context, q string, max int, region string) ([]RawHit, error) {
		calls++
		return nil, errors.New("down")
	})

	g := newTestGatherer(provider, Options{Retries: 3})
	assert.Empty(t, g.Search(context.Background(), "tcp", 6))
	assert.Equal(t, 3, calls)

	assert.Empty(t, g.Search(context.Background(), "  ", 6))
	assert.Equal(t, 3, calls)
}

func TestSearchRecoversProviderPanic(t *testing.T) {
	provider := ProviderFunc(func(ctx context.Context, q string, max int, region string) ([]RawHit, error) {
		panic("boom")
	})
	g := newTestGatherer(provider, Options{Retries: 2})
	assert.Empty(t, g.Search(context.Background(), "tcp", 6))
}

func TestDuckDuckGoProvider(t *testing.T) {
	var gotRegion, gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRegion = r.URL.Query().Get("kl")
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprintf(w, "%s", ddgPage)
	}))
	defer srv.Close()

	ddg := NewDuckDuckGo(srv.URL+"/html/", "test-agent", srv.Client())
	raw, err := ddg.Search(context.Background(), "ما هو TCP", 6, "xa-ar")
	require.NoError(t, err)
	assert.Equal(t, "xa-ar", gotRegion)
	assert.Equal(t, "ما هو TCP", gotQuery)
	assert.Equal(t, "test-agent", gotUA)

	results := AdaptAll(raw, 6)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.org/tcp", results[0].URL)
	assert.Equal(t, "ما هو TCP", results[0].Title)
	assert.Equal(t, "بروتوكول التحكم في الإرسال", results[0].Snippet)
	assert.Equal(t, "https://example.net/ip", results[1].URL)

	limited, err := ddg.Search(context.Background(), "tcp", 1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDuckDuckGoThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := NewDuckDuckGo(srv.URL, "ua", srv.Client()).Search(context.Background(), "tcp", 6, "")
	assert.Error(t, err)
}

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><style>body{color:red}</style><script>var x = 1;</script></head>
<body><h1>TCP</h1>
<p>بروتوكول   التحكم
في الإرسال.</p><noscript>enable js</noscript></body></html>`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchText(t *testing.T) {
	srv := newPageServer(t)
	g := newTestGatherer(nil, Options{Client: srv.Client(), Timeout: 200 * time.Millisecond})
	ctx := context.Background()

	assert.Equal(t, "TCP بروتوكول التحكم في الإرسال.", g.FetchText(ctx, srv.URL+"/page", 4000))
	assert.Equal(t, "TCP بروت", g.FetchText(ctx, srv.URL+"/page", 8))
	assert.Empty(t, g.FetchText(ctx, srv.URL+"/missing", 4000))
	assert.Empty(t, g.FetchText(ctx, srv.URL+"/slow", 4000))
	assert.Empty(t, g.FetchText(ctx, "", 4000))
	assert.Empty(t, g.FetchText(ctx, "http://127.0.0.1:1/unreachable", 4000))
}

func TestFetchAll(t *testing.T) {
	var hits atomic.Int32
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		time.Sleep(10 * time.Millisecond)
		if strings.HasSuffix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "<p>page %s</p>", r.URL.Path)
	}))
	defer srv.Close()

	g := newTestGatherer(nil, Options{Client: srv.Client(), MaxFetchChars: 4000, FetchConcurrency: 2})
	results := []Result{
		{Title: "no url"},
		{Title: "a", URL: srv.URL + "/a"},
		{Title: "bad", URL: srv.URL + "/bad"},
		{Title: "c", URL: srv.URL + "/c"},
		{Title: "d", URL: srv.URL + "/d"},
	}

	pages := g.FetchAll(context.Background(), results, 3)
	require.Len(t, pages, 2)
	assert.Equal(t, "a", pages[0].Title)
	assert.Equal(t, "page /a", pages[0].Text)
	assert.Equal(t, "c", pages[1].Title)
	assert.Equal(t, int32(3), hits.Load())
	assert.LessOrEqual(t, maxInFlight, 2)

	assert.Empty(t, g.FetchAll(context.Background(), nil, 3))
}

func TestWikiFallback(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"title":"بروتوكول التحكم بالإرسال","extract":"بروتوكول التحكم بالإرسال  هو أحد البروتوكولات الأساسية.","content_urls":{"desktop":{"page":"https://ar.wikipedia.org/wiki/TCP"}}}`)
	}))
	defer srv.Close()

	g := newTestGatherer(nil, Options{Client: srv.Client(), WikiEndpoint: srv.URL + "/summary/", MaxFetchChars: 4000})

	page := g.WikiFallback(context.Background(), "بروتوكول التحكم")
	assert.Equal(t, "/summary/بروتوكول التحكم", gotPath)
	assert.Equal(t, "بروتوكول التحكم بالإرسال هو أحد البروتوكولات الأساسية.", page.Text)
	assert.Equal(t, "https://ar.wikipedia.org/wiki/TCP", page.URL)

	assert.Equal(t, Page{}, g.WikiFallback(context.Background(), "missing"))
	assert.Equal(t, Page{}, g.WikiFallback(context.Background(), ""))
}

func TestCrawlerStaysOnDomain(t *testing.T) {
	var mu sync.Mutex
	visits := map[string]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		visits[r.URL.Path]++
		mu.Unlock()
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<p>home</p><a href="/a">a</a><a href="/b#frag">b</a><a href="https://elsewhere.example/x">x</a><a href="mailto:x@y">m</a>`)
		case "/a":
			fmt.Fprint(w, `<p>page a</p><a href="/">home</a><a href="/c">c</a>`)
		case "/b":
			fmt.Fprint(w, `<p>page b</p><a href="/a">a</a>`)
		default:
			fmt.Fprint(w, `<p>other</p>`)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := newTestGatherer(nil, Options{Client: srv.Client(), MaxFetchChars: 4000})
	pages := NewCrawler(g).Crawl(context.Background(), srv.URL+"/", 3)

	require.Len(t, pages, 3)
	assert.Equal(t, "home a b x m", pages[0].Text)
	assert.Equal(t, "page a home c", pages[1].Text)
	assert.Equal(t, "page b a", pages[2].Text)
	for path, n := range visits {
		assert.Equal(t, 1, n, path)
	}
	assert.Empty(t, NewCrawler(g).Crawl(context.Background(), "not a url", 3))
}

func TestRegisteredDomain(t *testing.T) {
	assert.Equal(t, "example.co.uk", registeredDomain("www.example.co.uk"))
	assert.Equal(t, registeredDomain("docs.example.com"), registeredDomain("WWW.example.com"))
}
