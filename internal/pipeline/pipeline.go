// Package pipeline answers a single user message. It routes the message
// through the intent classifier, then to canned small talk, the code/project
// collaborator, or retrieval over memory and the web followed by
// summarization. Components fail soft: every error becomes an empty result
// or the "no information" reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/codegen"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/intent"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/memory"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/metrics"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/summarize"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/web"
)

// ErrEmptyQuery is returned by Check for input with nothing but whitespace.
var ErrEmptyQuery = errors.New("empty query")

const (
	bullet = "• "

	maxSources       = 5
	maxAutolearn     = 3
	maxArtifactFacts = 3
)

// Memory is the slice of the memory store the pipeline uses.
type Memory interface {
	Search(ctx context.Context, q string, limit int) []memory.SearchHit
	AddFact(ctx context.Context, text, source string) (memory.Fact, error)
	SaveTurn(ctx context.Context, user, assistant string) (memory.Turn, error)
}

// Web is the slice of the web gatherer the pipeline uses.
type Web interface {
	Search(ctx context.Context, q string, maxResults int) []web.Result
	FetchAll(ctx context.Context, results []web.Result, n int) []web.Page
	WikiFallback(ctx context.Context, q string) web.Page
}

// Collaborator turns project and code requests into files.
type Collaborator interface {
	Generate(ctx context.Context, text string) (codegen.Result, error)
}

// Source is a web page the reply drew on.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Reply is the answer to one message. Text may contain pre-escaped
// <pre><code> blocks for generated code.
type Reply struct {
	Text    string        `json:"reply"`
	Sources []Source      `json:"sources"`
	Intent  intent.Intent `json:"intent,omitempty"`
}

// Options tune retrieval. Zero values take the config defaults.
type Options struct {
	SearchLimit  int
	WebSkipScore float64
	MaxResults   int
	FetchPages   int
	SummaryLines int
}

func (o Options) withDefaults() Options {
	if o.SearchLimit <= 0 {
		o.SearchLimit = config.DefaultSearchLimit
	}
	if o.WebSkipScore <= 0 {
		o.WebSkipScore = config.DefaultWebSkipScore
	}
	if o.MaxResults <= 0 {
		o.MaxResults = config.DefaultMaxResults
	}
	if o.FetchPages <= 0 {
		o.FetchPages = config.DefaultFetchPages
	}
	if o.SummaryLines <= 0 {
		o.SummaryLines = config.DefaultSummaryLines
	}
	return o
}

// Pipeline is safe for concurrent use when its collaborators are.
type Pipeline struct {
	mem        Memory
	web        Web
	collab     Collaborator
	classifier *intent.Classifier
	openers    []string
	messages   config.Messages
	opts       Options
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Deps bundles the components a Pipeline is assembled from. Collab, Metrics
// and Logger may be nil.
type Deps struct {
	Memory     Memory
	Web        Web
	Collab     Collaborator
	Classifier *intent.Classifier
	Lexicon    *config.Lexicon
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// New assembles a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Memory == nil || deps.Web == nil || deps.Classifier == nil || deps.Lexicon == nil {
		return nil, fmt.Errorf("pipeline: memory, web, classifier and lexicon are required")
	}
	if len(deps.Lexicon.Openers) == 0 {
		return nil, fmt.Errorf("pipeline: lexicon has no openers")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		mem:        deps.Memory,
		web:        deps.Web,
		collab:     deps.Collab,
		classifier: deps.Classifier,
		openers:    append([]string(nil), deps.Lexicon.Openers...),
		messages:   deps.Lexicon.Messages,
		opts:       opts.withDefaults(),
		metrics:    deps.Metrics,
		logger:     logger,
	}, nil
}

// Check trims q and reports ErrEmptyQuery when nothing is left.
func Check(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

// Chat answers q. It never fails; on empty input it returns the prompt for
// input without touching memory.
func (p *Pipeline) Chat(ctx context.Context, q string) Reply {
	start := time.Now()
	q, err := Check(q)
	if err != nil {
		p.metrics.ObserveChat("empty", time.Since(start))
		return Reply{Text: p.messages.EmptyQuery, Sources: []Source{}}
	}

	cls := p.classifier.Classify(q)
	var reply Reply
	switch cls.Intent {
	case intent.SmallTalk:
		reply = Reply{Text: cls.Reply, Sources: []Source{}}
	case intent.Project, intent.Code:
		if r, ok := p.collaborate(ctx, q); ok {
			reply = r
			break
		}
		reply = p.answer(ctx, q)
	default:
		reply = p.answer(ctx, q)
	}
	reply.Intent = cls.Intent

	p.saveTurn(ctx, q, reply.Text)
	p.metrics.ObserveChat(string(cls.Intent), time.Since(start))
	p.logger.Debug("Answered message",
		zap.String("intent", string(cls.Intent)),
		zap.Int("sources", len(reply.Sources)),
		zap.Duration("elapsed", time.Since(start)))
	return reply
}

// collaborate runs the code/project collaborator. ok is false when it
// failed, so the caller can fall back to retrieval.
func (p *Pipeline) collaborate(ctx context.Context, q string) (reply Reply, ok bool) {
	if p.collab == nil {
		return Reply{}, false
	}
	res, err := p.generate(ctx, q)
	if err != nil || !res.OK {
		p.logger.Warn("Collaborator failed, falling back to retrieval", zap.Error(err))
		return Reply{}, false
	}
	name, content, found := res.First()
	if !found {
		p.logger.Warn("Collaborator returned no files")
		return Reply{}, false
	}

	var b strings.Builder
	b.WriteString(p.messages.FilesHeader)
	b.WriteString(" ")
	b.WriteString(strings.Join(res.Order, "، "))
	b.WriteString("\n")
	b.WriteString(name)
	b.WriteString(":\n<pre><code>")
	b.WriteString(html.EscapeString(content))
	b.WriteString("</code></pre>")
	if res.Tips != "" {
		b.WriteString("\n")
		b.WriteString(res.Tips)
	}
	if len(res.Issues) > 0 {
		b.WriteString("\n")
		b.WriteString(p.messages.IssuesHeader)
		for _, issue := range res.Issues {
			b.WriteString("\n- ")
			b.WriteString(issue)
		}
	}

	for i, file := range res.Order {
		if i == maxArtifactFacts {
			break
		}
		fact := fmt.Sprintf(p.messages.ArtifactFact, file, len(res.Files[file]), q)
		p.learn(ctx, fact, memory.SourceCodegen)
	}
	return Reply{Text: b.String(), Sources: []Source{}}, true
}

// generate calls the collaborator, converting a panic into an error.
func (p *Pipeline) generate(ctx context.Context, q string) (res codegen.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", codegen.ErrCollaboratorFailed, r)
		}
	}()
	return p.collab.Generate(ctx, q)
}

// answer is the information path: memory, then the web when memory is
// weak, then summarization.
func (p *Pipeline) answer(ctx context.Context, q string) Reply {
	hits := p.mem.Search(ctx, q, p.opts.SearchLimit)
	needWeb := len(hits) == 0 || hits[0].Score < p.opts.WebSkipScore

	var (
		results   []web.Result
		pageTexts []string
		extra     []Source
	)
	if needWeb {
		results = p.web.Search(ctx, q, p.opts.MaxResults)
		for _, page := range p.web.FetchAll(ctx, results, p.opts.FetchPages) {
			if strings.TrimSpace(page.Text) != "" {
				pageTexts = append(pageTexts, page.Text)
			}
		}
		outcome := metrics.WebPages
		if len(pageTexts) == 0 {
			outcome = metrics.WebEmpty
			if wiki := p.web.WikiFallback(ctx, q); strings.TrimSpace(wiki.Text) != "" {
				pageTexts = append(pageTexts, wiki.Text)
				if wiki.URL != "" {
					extra = append(extra, Source{Title: wiki.Title, URL: wiki.URL})
				}
				outcome = metrics.WebWiki
			}
		}
		p.metrics.WebLookup(outcome)
	} else {
		p.metrics.WebLookup(metrics.WebSkipped)
	}

	texts := make([]string, 0, len(hits)+len(pageTexts))
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	texts = append(texts, pageTexts...)

	sources := collectSources(results, extra)
	lines := p.summarize(texts)
	if len(lines) == 0 {
		return Reply{Text: p.messages.NoInformation, Sources: sources}
	}

	opener := p.openers[(len(hits)+len(pageTexts))%len(p.openers)]
	var b strings.Builder
	b.WriteString(opener)
	for _, line := range lines {
		b.WriteString("\n")
		b.WriteString(bullet)
		b.WriteString(line)
	}
	reply := Reply{Text: b.String(), Sources: sources}

	for i, line := range lines {
		if i == maxAutolearn {
			break
		}
		if p.classifier.ShouldLearn(line) {
			p.learn(ctx, line, memory.SourceAutolearn)
		}
	}
	return reply
}

// summarize runs the summarizer, treating a panic as an empty summary.
func (p *Pipeline) summarize(texts []string) (lines []string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Summarizer panicked", zap.Any("panic", r))
			lines = nil
		}
	}()
	return summarize.Summarize(texts, p.opts.SummaryLines)
}

func (p *Pipeline) learn(ctx context.Context, text, source string) {
	if _, err := p.mem.AddFact(ctx, text, source); err != nil {
		p.metrics.StorageError()
		p.logger.Warn("Failed to store fact", zap.String("source", source), zap.Error(err))
		return
	}
	p.metrics.FactLearned(source)
}

func (p *Pipeline) saveTurn(ctx context.Context, q, text string) {
	if _, err := p.mem.SaveTurn(ctx, q, text); err != nil {
		p.metrics.StorageError()
		p.logger.Warn("Failed to save conversation turn", zap.Error(err))
	}
}

// collectSources returns up to maxSources results that carry a URL, followed
// by extra.
func collectSources(results []web.Result, extra []Source) []Source {
	sources := make([]Source, 0, maxSources)
	for _, r := range results {
		if len(sources) == maxSources {
			return sources
		}
		if r.URL == "" {
			continue
		}
		sources = append(sources, Source{Title: r.Title, URL: r.URL})
	}
	for _, s := range extra {
		if len(sources) == maxSources {
			break
		}
		sources = append(sources, s)
	}
	return sources
}
