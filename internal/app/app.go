package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/codegen"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/intent"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/learn"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/logging"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/memory"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/metrics"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/pipeline"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/recall"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/server"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/storage"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/web"
)

// Options control how NewApp loads its configuration and where it logs.
type Options struct {
	ConfigPath string
	// Stderr mirrors log output to stderr in console format.
	Stderr bool
	// Provider replaces the configured search provider.
	Provider web.Provider
}

// NewApp loads configuration, opens storage and wires every component.
func NewApp(opts Options) (*App, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLoggerWithStderr(cfg.LogLevel, cfg.LogFile, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := NewFromConfig(cfg, logger, opts.Provider)
	if err != nil {
		logger.Error("Failed to initialize application", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// NewFromConfig wires the application around an already loaded config.
// A nil provider selects the one named by cfg.WebProvider.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, provider web.Provider) (*App, error) {
	logger = logging.OrNop(logger)

	lex, err := loadLexicon(cfg)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Core:   CoreModule{Config: cfg, Logger: logger, DB: db, Lexicon: lex},
		Ctx:    ctx,
		Cancel: cancel,
	}
	if err := a.wire(provider); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Application ready",
		zap.String("data_dir", cfg.DataDir),
		zap.String("db", cfg.DBPath))
	return a, nil
}

func loadLexicon(cfg *config.Config) (*config.Lexicon, error) {
	if cfg.LexiconPath != "" {
		lex, err := config.LoadLexicon(cfg.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
		return lex, nil
	}
	lex, err := config.DefaultLexicon()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in lexicon: %w", err)
	}
	return lex, nil
}

func (a *App) wire(provider web.Provider) error {
	cfg := a.Core.Config
	logger := a.Core.Logger
	lex := a.Core.Lexicon

	if cfg.MetricsEnabled {
		a.Metrics = metrics.New()
	}

	norm := textnorm.New(lex.Stopwords)
	a.Language = LanguageModule{Normalizer: norm, Classifier: intent.New(norm, lex)}

	a.recallMetrics = recall.NewMetricsWriter(a.Core.DB.Conn(), logger)
	store, err := memory.NewStore(a.Ctx, a.Core.DB, norm, memory.Options{
		Blocklist: lex.QualityBlocklist,
		MinScore:  cfg.MinScore,
		Logger:    logger.Named("memory"),
		Metrics:   a.recallMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize memory: %w", err)
	}
	a.Memory = store

	client := &http.Client{Timeout: cfg.Timeout()}
	if provider == nil {
		provider = web.NewDuckDuckGo(cfg.SearchEndpoint, cfg.UserAgent, client)
	}
	gatherer := web.NewGatherer(provider, web.Options{
		Regions:          cfg.Regions,
		Retries:          cfg.Retries,
		Backoff:          cfg.Backoff(),
		Timeout:          cfg.Timeout(),
		MaxFetchChars:    cfg.MaxFetchChars,
		FetchConcurrency: cfg.FetchConcurrency,
		UserAgent:        cfg.UserAgent,
		WikiEndpoint:     cfg.WikiEndpoint,
		Client:           client,
		Logger:           logger.Named("web"),
	})
	a.Web = WebModule{Gatherer: gatherer, Crawler: web.NewCrawler(gatherer)}

	gen, err := codegen.New(logger.Named("codegen"))
	if err != nil {
		return fmt.Errorf("failed to initialize code generator: %w", err)
	}
	a.Codegen = gen

	p, err := pipeline.New(pipeline.Deps{
		Memory:     store,
		Web:        gatherer,
		Collab:     gen,
		Classifier: a.Language.Classifier,
		Lexicon:    lex,
		Metrics:    a.Metrics,
		Logger:     logger.Named("pipeline"),
	}, pipeline.Options{
		SearchLimit:  cfg.SearchLimit,
		WebSkipScore: cfg.WebSkipScore,
		MaxResults:   cfg.MaxResults,
		FetchPages:   cfg.FetchPages,
		SummaryLines: cfg.SummaryLines,
	})
	if err != nil {
		return err
	}
	a.Pipeline = p

	loop, err := learn.New(learn.Deps{
		Memory:     store,
		Web:        gatherer,
		Knowledge:  learn.NewKnowledgeFile(cfg.KnowledgePath),
		Classifier: a.Language.Classifier,
		Lexicon:    lex,
		Metrics:    a.Metrics,
		Logger:     logger.Named("learn"),
	}, learn.Options{
		Results:       cfg.LearnResults,
		FetchPages:    cfg.FetchPages,
		MaxLines:      cfg.LearnMaxLines,
		MinLineChars:  cfg.LearnMinLineChars,
		MaxFacts:      cfg.MaxFacts,
		DefaultTopics: cfg.DefaultTopics,
	})
	if err != nil {
		return err
	}
	a.Learner = loop
	return nil
}

// NewServer returns the HTTP front-end bound to the configured address.
func (a *App) NewServer() *server.Server {
	deps := server.Deps{
		Chat:    a.Pipeline,
		Learner: a.Learner,
		History: a.Memory,
		Storage: a.Core.DB,
		Logger:  a.Core.Logger.Named("http"),
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics.Handler()
	}
	return server.New(a.Core.Config.ListenAddress, deps)
}

// NewScheduler returns a scheduler running the learning loop on the
// configured schedule. It is not started.
func (a *App) NewScheduler() (*learn.Scheduler, error) {
	s := learn.NewScheduler(a.Core.Logger.Named("scheduler"))
	job := &learn.LoopJob{
		Loop:         a.Learner,
		ScheduleExpr: a.Core.Config.LearnSchedule,
		Logger:       a.Core.Logger.Named("learn"),
	}
	if err := s.RegisterJob(job); err != nil {
		return nil, err
	}
	return s, nil
}

// Close gracefully shuts down the application resources.
func (a *App) Close() {
	if a.Cancel != nil {
		a.Cancel()
	}

	// Flush pending search metrics before the database goes away.
	if a.recallMetrics != nil {
		a.recallMetrics.Close()
	}

	if a.Core.DB != nil {
		if err := a.Core.DB.Close(); err != nil {
			a.Core.Logger.Error("Failed to close database connection", zap.Error(err))
		} else {
			a.Core.Logger.Debug("Database connection closed")
		}
	}
	if a.Core.Logger != nil {
		if err := a.Core.Logger.Sync(); err != nil {
			if !strings.Contains(err.Error(), "sync /dev/stderr: invalid argument") &&
				!strings.Contains(err.Error(), "sync /dev/stderr: inappropriate ioctl for device") &&
				!strings.Contains(err.Error(), "bad file descriptor") {
				fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
			}
		}
	}
}

// ContextWithLogger returns a new context with the application's logger.
func (a *App) ContextWithLogger(ctx context.Context) context.Context {
	return logging.ContextWithLogger(ctx, a.Core.Logger)
}

// Stats gathers memory statistics and the search metric summary.
func (a *App) Stats(ctx context.Context) (memory.Stats, recall.MetricsSummary, error) {
	stats, err := a.Memory.Stats(ctx)
	if err != nil {
		return memory.Stats{}, recall.MetricsSummary{}, err
	}
	summary, err := recall.Summarize(a.Core.DB.Conn())
	if err != nil {
		return stats, recall.MetricsSummary{}, err
	}
	return stats, summary, nil
}
