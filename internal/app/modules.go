package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/codegen"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/intent"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/learn"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/memory"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/metrics"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/pipeline"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/recall"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/storage"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/web"
)

// CoreModule holds the core application components
type CoreModule struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *storage.DB
	Lexicon *config.Lexicon
}

// LanguageModule holds the immutable text processing components
type LanguageModule struct {
	Normalizer *textnorm.Normalizer
	Classifier *intent.Classifier
}

// WebModule holds the web evidence components
type WebModule struct {
	Gatherer *web.Gatherer
	Crawler  *web.Crawler
}

// App holds the components of the assistant, grouped by concern.
type App struct {
	Core     CoreModule
	Language LanguageModule
	Web      WebModule
	Memory   *memory.Store
	Codegen  *codegen.Generator
	Pipeline *pipeline.Pipeline
	Learner  *learn.Loop
	Metrics  *metrics.Metrics

	recallMetrics *recall.MetricsWriter

	Ctx    context.Context
	Cancel context.CancelFunc
}
