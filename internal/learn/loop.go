// Package learn grows long-term memory in the background. Each run
// searches the web for a handful of topics, summarizes what it finds, keeps
// the lines it has not seen before, learns from recent assistant replies,
// and prunes the store back to its cap.
package learn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/intent"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/memory"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/metrics"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/summarize"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/web"
)

const (
	// turnWindow is how many recent turns seed topics and conversation facts.
	turnWindow = 20
	// minConversationChars is the floor for learning an assistant reply.
	minConversationChars = 50
	codeBlockMarker      = "<pre><code>"
)

// Memory is the slice of the memory store the loop uses.
type Memory interface {
	AddFact(ctx context.Context, text, source string) (memory.Fact, error)
	HasFact(ctx context.Context, text, source string) (bool, error)
	RecentTurns(ctx context.Context, limit int) ([]memory.Turn, error)
	Prune(ctx context.Context, maxFacts int) (int, error)
}

// Web is the slice of the web gatherer the loop uses.
type Web interface {
	Search(ctx context.Context, q string, maxResults int) []web.Result
	FetchAll(ctx context.Context, results []web.Result, n int) []web.Page
}

// Options tune a run. Zero values take the config defaults.
type Options struct {
	Results       int
	FetchPages    int
	MaxLines      int
	MinLineChars  int
	MaxFacts      int
	DefaultTopics []string
}

func (o Options) withDefaults() Options {
	if o.Results <= 0 {
		o.Results = config.DefaultLearnResults
	}
	if o.FetchPages <= 0 {
		o.FetchPages = config.DefaultFetchPages
	}
	if o.MaxLines <= 0 {
		o.MaxLines = config.DefaultLearnMaxLines
	}
	if o.MinLineChars <= 0 {
		o.MinLineChars = config.DefaultLearnMinLineChars
	}
	if o.MaxFacts <= 0 {
		o.MaxFacts = config.DefaultMaxFacts
	}
	return o
}

// Deps bundles the components a Loop needs. Metrics and Logger may be nil.
type Deps struct {
	Memory     Memory
	Web        Web
	Knowledge  *KnowledgeFile
	Classifier *intent.Classifier
	Lexicon    *config.Lexicon
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Report counts what one run learned.
type Report struct {
	RunID        string   `json:"run_id"`
	Topics       []string `json:"topics"`
	Web          int      `json:"web"`
	Conversation int      `json:"conversation"`
	Pruned       int      `json:"pruned"`
}

// Learned is the number of new facts from both sources.
func (r Report) Learned() int {
	return r.Web + r.Conversation
}

// Loop runs are serialized; concurrent callers wait their turn.
type Loop struct {
	mem        Memory
	web        Web
	knowledge  *KnowledgeFile
	classifier *intent.Classifier
	norm       *textnorm.Normalizer
	buckets    []bucket
	defaults   []string
	summary    string
	opts       Options
	metrics    *metrics.Metrics
	logger     *zap.Logger

	runMu sync.Mutex
}

type bucket struct {
	name     string
	keywords []string
	topics   []string
}

// New assembles a Loop. Options.DefaultTopics overrides the lexicon's list.
func New(deps Deps, opts Options) (*Loop, error) {
	if deps.Memory == nil || deps.Web == nil || deps.Knowledge == nil || deps.Classifier == nil || deps.Lexicon == nil {
		return nil, fmt.Errorf("learn: memory, web, knowledge, classifier and lexicon are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	defaults := opts.DefaultTopics
	if len(defaults) == 0 {
		defaults = deps.Lexicon.DefaultTopics
	}

	l := &Loop{
		mem:        deps.Memory,
		web:        deps.Web,
		knowledge:  deps.Knowledge,
		classifier: deps.Classifier,
		norm:       textnorm.New(deps.Lexicon.Stopwords),
		defaults:   append([]string(nil), defaults...),
		summary:    deps.Lexicon.Messages.LearnSummary,
		opts:       opts,
		metrics:    deps.Metrics,
		logger:     logger,
	}
	for _, b := range deps.Lexicon.TopicBuckets {
		fb := bucket{name: b.Name, topics: b.Topics}
		for _, kw := range b.Keywords {
			if f := textnorm.Fold(kw); f != "" {
				fb.keywords = append(fb.keywords, f)
			}
		}
		l.buckets = append(l.buckets, fb)
	}
	return l, nil
}

// Topics derives seed topics from the user side of recent turns. A turn
// that mentions any keyword of a bucket as a word, clitics allowed,
// contributes the bucket's topics.
// With no match the default topics are used.
func (l *Loop) Topics(ctx context.Context) []string {
	turns, err := l.mem.RecentTurns(ctx, turnWindow)
	if err != nil {
		l.logger.Warn("Failed to read recent turns for topics", zap.Error(err))
		return append([]string(nil), l.defaults...)
	}

	var (
		topics []string
		seen   = make(map[string]struct{})
	)
	for _, b := range l.buckets {
		if !l.bucketMatches(b, turns) {
			continue
		}
		for _, t := range b.topics {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return append([]string(nil), l.defaults...)
	}
	return topics
}

func (l *Loop) bucketMatches(b bucket, turns []memory.Turn) bool {
	for _, turn := range turns {
		tokens := l.norm.Tokens(turn.User)
		for _, kw := range b.keywords {
			if textnorm.ContainsKeyword(tokens, kw) {
				return true
			}
		}
	}
	return false
}

// RunOnce performs one learning pass over topics, or over Topics(ctx) when
// topics is empty. A failing topic is logged and skipped. The returned error
// reports a knowledge file that could not be saved or a cancelled context;
// the report is valid either way.
func (l *Loop) RunOnce(ctx context.Context, topics []string) (Report, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	start := time.Now()
	if len(topics) == 0 {
		topics = l.Topics(ctx)
	}
	report := Report{RunID: uuid.NewString(), Topics: append([]string(nil), topics...)}
	logger := l.logger.With(zap.String("run_id", report.RunID))

	items, err := l.knowledge.Load()
	if err != nil {
		logger.Warn("Knowledge file unreadable, starting empty", zap.String("path", l.knowledge.Path()), zap.Error(err))
		items = nil
	}
	known := knownTexts(items)

	var runErr error
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		added := l.learnTopic(ctx, logger, topic, known)
		items = append(items, added...)
		report.Web += len(added)
	}

	if report.Web > 0 {
		if err := l.knowledge.Save(items); err != nil {
			logger.Error("Failed to save knowledge file", zap.Error(err))
			runErr = err
		}
	}

	if runErr == nil {
		report.Conversation = l.learnConversation(ctx, logger)
		pruned, err := l.mem.Prune(ctx, l.opts.MaxFacts)
		if err != nil {
			logger.Warn("Prune failed", zap.Error(err))
		}
		report.Pruned = pruned
	}

	l.metrics.LearnRun()
	logger.Info("Learning run finished",
		zap.Strings("topics", report.Topics),
		zap.Int("web", report.Web),
		zap.Int("conversation", report.Conversation),
		zap.Int("pruned", report.Pruned),
		zap.Duration("elapsed", time.Since(start)))
	return report, runErr
}

// learnTopic returns the new items learned for topic and stores each as an
// autolearn fact. known is updated in place.
func (l *Loop) learnTopic(ctx context.Context, logger *zap.Logger, topic string, known map[string]struct{}) []Item {
	results := l.web.Search(ctx, topic, l.opts.Results)
	if len(results) == 0 {
		logger.Debug("No search results for topic", zap.String("topic", topic))
		return nil
	}
	added := l.learnPages(ctx, logger, l.web.FetchAll(ctx, results, l.opts.FetchPages), topic, memory.SourceAutolearn, known)
	logger.Debug("Topic learned", zap.String("topic", topic), zap.Int("lines", len(added)))
	return added
}

// learnPages summarizes page texts and keeps the lines that are long enough
// and not in known, storing each as a fact with source.
func (l *Loop) learnPages(ctx context.Context, logger *zap.Logger, pages []web.Page, topic, source string, known map[string]struct{}) []Item {
	var texts []string
	for _, page := range pages {
		if page.Text != "" {
			texts = append(texts, page.Text)
		}
	}

	var added []Item
	for _, line := range summarize.Summarize(texts, l.opts.MaxLines) {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= l.opts.MinLineChars {
			continue
		}
		if _, dup := known[line]; dup {
			continue
		}
		known[line] = struct{}{}
		added = append(added, Item{Text: line, Source: source, Topic: topic})

		if _, err := l.mem.AddFact(ctx, line, source); err != nil {
			l.metrics.StorageError()
			logger.Warn("Failed to store learned line", zap.String("topic", topic), zap.Error(err))
			continue
		}
		l.metrics.FactLearned(source)
	}
	return added
}

// LearnPages learns from pages that were fetched elsewhere, such as by the
// crawler. Lines go through the same filters as a topic run and are tagged
// with source.
func (l *Loop) LearnPages(ctx context.Context, topic, source string, pages []web.Page) (int, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	items, err := l.knowledge.Load()
	if err != nil {
		l.logger.Warn("Knowledge file unreadable, starting empty", zap.String("path", l.knowledge.Path()), zap.Error(err))
		items = nil
	}
	added := l.learnPages(ctx, l.logger, pages, topic, source, knownTexts(items))
	if len(added) == 0 {
		return 0, nil
	}
	if err := l.knowledge.Save(append(items, added...)); err != nil {
		return len(added), err
	}
	return len(added), nil
}

// learnConversation stores substantial assistant replies as conversation
// facts, skipping error replies, code blocks and replies already stored.
func (l *Loop) learnConversation(ctx context.Context, logger *zap.Logger) int {
	turns, err := l.mem.RecentTurns(ctx, turnWindow)
	if err != nil {
		logger.Warn("Failed to read recent turns", zap.Error(err))
		return 0
	}

	learned := 0
	for i := len(turns) - 1; i >= 0; i-- {
		text := strings.TrimSpace(turns[i].Assistant)
		if utf8.RuneCountInString(text) <= minConversationChars ||
			l.classifier.HasErrorMarker(text) ||
			strings.Contains(text, codeBlockMarker) {
			continue
		}
		exists, err := l.mem.HasFact(ctx, text, memory.SourceConversation)
		if err != nil {
			logger.Warn("Failed to check conversation fact", zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		if _, err := l.mem.AddFact(ctx, text, memory.SourceConversation); err != nil {
			l.metrics.StorageError()
			logger.Warn("Failed to store conversation fact", zap.Error(err))
			continue
		}
		l.metrics.FactLearned(memory.SourceConversation)
		learned++
	}
	return learned
}

// Trigger runs the loop once over derived topics and returns the
// user-facing summary of how many facts were learned.
func (l *Loop) Trigger(ctx context.Context) string {
	report, err := l.RunOnce(ctx, nil)
	if err != nil {
		l.logger.Warn("Learning run incomplete", zap.String("run_id", report.RunID), zap.Error(err))
	}
	return fmt.Sprintf(l.summary, report.Learned())
}
