package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultListenAddress     = "127.0.0.1:8080"
	DefaultSearchEndpoint    = "https://html.duckduckgo.com/html/"
	DefaultWikiEndpoint      = "https://ar.wikipedia.org/api/rest_v1/page/summary/"
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124 Safari/537.36"
	DefaultSearchLimit       = 8
	DefaultWebSkipScore      = 1.5
	DefaultMinScore          = 0.1
	DefaultMaxFacts          = 5000
	DefaultRetries           = 3
	DefaultBackoffMillis     = 500
	DefaultTimeoutSeconds    = 12
	DefaultMaxFetchChars     = 4000
	DefaultMaxResults        = 6
	DefaultFetchPages        = 3
	DefaultFetchConcurrency  = 3
	DefaultSummaryLines      = 6
	DefaultLearnSchedule     = "@every 6h"
	DefaultLearnMaxLines     = 4
	DefaultLearnMinLineChars = 40
	DefaultLearnResults      = 5
)

// DefaultRegions are cycled by the web gatherer between retries.
var DefaultRegions = []string{"xa-ar", "wt-wt", "us-en"}

// Config holds the application configuration
type Config struct {
	DataDir    string
	ConfigPath string
	DBPath     string
	LogLevel   string
	LogFile    string

	// Memory search and retention
	SearchLimit  int
	WebSkipScore float64
	MinScore     float64
	MaxFacts     int
	SummaryLines int

	// Web gatherer
	WebProvider      string
	SearchEndpoint   string
	WikiEndpoint     string
	Regions          []string
	Retries          int
	BackoffMillis    int
	TimeoutSeconds   int
	MaxFetchChars    int
	MaxResults       int
	FetchPages       int
	FetchConcurrency int
	UserAgent        string

	// Learning loop
	KnowledgePath     string
	LearnSchedule     string
	DefaultTopics     []string
	LearnMaxLines     int
	LearnMinLineChars int
	LearnResults      int

	ListenAddress  string
	MetricsEnabled bool
	LexiconPath    string
}

type fileConfig struct {
	Storage struct {
		DBPath string `toml:"db_path"`
	} `toml:"storage"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	Memory struct {
		SearchLimit  int     `toml:"search_limit"`
		WebSkipScore float64 `toml:"web_skip_score"`
		MinScore     float64 `toml:"min_score"`
		MaxFacts     int     `toml:"max_facts"`
		SummaryLines int     `toml:"summary_lines"`
	} `toml:"memory"`
	Web struct {
		Provider         string   `toml:"provider"`
		Endpoint         string   `toml:"endpoint"`
		WikiEndpoint     string   `toml:"wiki_endpoint"`
		Regions          []string `toml:"regions"`
		Retries          int      `toml:"retries"`
		BackoffMillis    int      `toml:"backoff_ms"`
		TimeoutSeconds   int      `toml:"timeout_seconds"`
		MaxFetchChars    int      `toml:"max_fetch_chars"`
		MaxResults       int      `toml:"max_results"`
		FetchPages       int      `toml:"fetch_pages"`
		FetchConcurrency int      `toml:"fetch_concurrency"`
		UserAgent        string   `toml:"user_agent"`
	} `toml:"web"`
	Learn struct {
		KnowledgePath string   `toml:"knowledge_path"`
		Schedule      string   `toml:"schedule"`
		DefaultTopics []string `toml:"default_topics"`
		MaxLines      int      `toml:"max_lines"`
		MinLineChars  int      `toml:"min_line_chars"`
		Results       int      `toml:"results"`
	} `toml:"learn"`
	Server struct {
		ListenAddress string `toml:"listen_address"`
	} `toml:"server"`
	Metrics struct {
		Enabled *bool `toml:"enabled"`
	} `toml:"metrics"`
	Lexicon struct {
		Path string `toml:"path"`
	} `toml:"lexicon"`
}

// LoadConfig loads configuration from defaults, the TOML file and CORE_*
// environment variables, in that order. An empty configPath means
// <data dir>/config.toml, which is optional.
func LoadConfig(configPath string) (*Config, error) {
	dataRoot, err := FindDataRoot()
	if err != nil {
		return nil, err
	}
	dataDir := GetDataDir(dataRoot)
	if configPath == "" {
		configPath = filepath.Join(dataDir, "config.toml")
	}

	cfg := Defaults(dataDir)
	cfg.ConfigPath = configPath

	if _, err := os.Stat(configPath); err == nil {
		fileData, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.applyFile(fileData); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	cfg.applyEnv()

	if err := EnsureDataDirs(cfg.DataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a configuration rooted at dataDir with every built-in value set.
func Defaults(dataDir string) *Config {
	return &Config{
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "corebrain.db"),
		LogLevel:          "info",
		LogFile:           filepath.Join(dataDir, "logs", "corebrain.log"),
		SearchLimit:       DefaultSearchLimit,
		WebSkipScore:      DefaultWebSkipScore,
		MinScore:          DefaultMinScore,
		MaxFacts:          DefaultMaxFacts,
		SummaryLines:      DefaultSummaryLines,
		WebProvider:       "duckduckgo",
		SearchEndpoint:    DefaultSearchEndpoint,
		WikiEndpoint:      DefaultWikiEndpoint,
		Regions:           append([]string(nil), DefaultRegions...),
		Retries:           DefaultRetries,
		BackoffMillis:     DefaultBackoffMillis,
		TimeoutSeconds:    DefaultTimeoutSeconds,
		MaxFetchChars:     DefaultMaxFetchChars,
		MaxResults:        DefaultMaxResults,
		FetchPages:        DefaultFetchPages,
		FetchConcurrency:  DefaultFetchConcurrency,
		UserAgent:         DefaultUserAgent,
		KnowledgePath:     filepath.Join(dataDir, "knowledge", "knowledge.json"),
		LearnSchedule:     DefaultLearnSchedule,
		LearnMaxLines:     DefaultLearnMaxLines,
		LearnMinLineChars: DefaultLearnMinLineChars,
		LearnResults:      DefaultLearnResults,
		ListenAddress:     DefaultListenAddress,
		MetricsEnabled:    true,
	}
}

func (c *Config) applyFile(fileData []byte) error {
	var parsed fileConfig
	if err := toml.Unmarshal(fileData, &parsed); err != nil {
		return err
	}

	if parsed.Storage.DBPath != "" {
		c.DBPath = c.resolve(parsed.Storage.DBPath)
	}
	if parsed.Logging.Level != "" {
		c.LogLevel = parsed.Logging.Level
	}
	if parsed.Logging.File != "" {
		c.LogFile = c.resolve(parsed.Logging.File)
	}
	if parsed.Memory.SearchLimit != 0 {
		c.SearchLimit = parsed.Memory.SearchLimit
	}
	if parsed.Memory.WebSkipScore != 0 {
		c.WebSkipScore = parsed.Memory.WebSkipScore
	}
	if parsed.Memory.MinScore != 0 {
		c.MinScore = parsed.Memory.MinScore
	}
	if parsed.Memory.MaxFacts != 0 {
		c.MaxFacts = parsed.Memory.MaxFacts
	}
	if parsed.Memory.SummaryLines != 0 {
		c.SummaryLines = parsed.Memory.SummaryLines
	}
	if parsed.Web.Provider != "" {
		c.WebProvider = parsed.Web.Provider
	}
	if parsed.Web.Endpoint != "" {
		c.SearchEndpoint = parsed.Web.Endpoint
	}
	if parsed.Web.WikiEndpoint != "" {
		c.WikiEndpoint = parsed.Web.WikiEndpoint
	}
	if len(parsed.Web.Regions) > 0 {
		c.Regions = parsed.Web.Regions
	}
	if parsed.Web.Retries != 0 {
		c.Retries = parsed.Web.Retries
	}
	if parsed.Web.BackoffMillis != 0 {
		c.BackoffMillis = parsed.Web.BackoffMillis
	}
	if parsed.Web.TimeoutSeconds != 0 {
		c.TimeoutSeconds = parsed.Web.TimeoutSeconds
	}
	if parsed.Web.MaxFetchChars != 0 {
		c.MaxFetchChars = parsed.Web.MaxFetchChars
	}
	if parsed.Web.MaxResults != 0 {
		c.MaxResults = parsed.Web.MaxResults
	}
	if parsed.Web.FetchPages != 0 {
		c.FetchPages = parsed.Web.FetchPages
	}
	if parsed.Web.FetchConcurrency != 0 {
		c.FetchConcurrency = parsed.Web.FetchConcurrency
	}
	if parsed.Web.UserAgent != "" {
		c.UserAgent = parsed.Web.UserAgent
	}
	if parsed.Learn.KnowledgePath != "" {
		c.KnowledgePath = c.resolve(parsed.Learn.KnowledgePath)
	}
	if parsed.Learn.Schedule != "" {
		c.LearnSchedule = parsed.Learn.Schedule
	}
	if len(parsed.Learn.DefaultTopics) > 0 {
		c.DefaultTopics = parsed.Learn.DefaultTopics
	}
	if parsed.Learn.MaxLines != 0 {
		c.LearnMaxLines = parsed.Learn.MaxLines
	}
	if parsed.Learn.MinLineChars != 0 {
		c.LearnMinLineChars = parsed.Learn.MinLineChars
	}
	if parsed.Learn.Results != 0 {
		c.LearnResults = parsed.Learn.Results
	}
	if parsed.Server.ListenAddress != "" {
		c.ListenAddress = parsed.Server.ListenAddress
	}
	if parsed.Metrics.Enabled != nil {
		c.MetricsEnabled = *parsed.Metrics.Enabled
	}
	if parsed.Lexicon.Path != "" {
		c.LexiconPath = c.resolve(parsed.Lexicon.Path)
	}
	return nil
}

func (c *Config) applyEnv() {
	if dbPath := os.Getenv("CORE_DB_PATH"); dbPath != "" {
		c.DBPath = dbPath
	}
	if level := os.Getenv("CORE_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if logFile := os.Getenv("CORE_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
	if limit := os.Getenv("CORE_SEARCH_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			c.SearchLimit = n
		}
	}
	if skip := os.Getenv("CORE_WEB_SKIP_SCORE"); skip != "" {
		if f, err := strconv.ParseFloat(skip, 64); err == nil {
			c.WebSkipScore = f
		}
	}
	if maxFacts := os.Getenv("CORE_MAX_FACTS"); maxFacts != "" {
		if n, err := strconv.Atoi(maxFacts); err == nil {
			c.MaxFacts = n
		}
	}
	if endpoint := os.Getenv("CORE_SEARCH_ENDPOINT"); endpoint != "" {
		c.SearchEndpoint = endpoint
	}
	if wiki := os.Getenv("CORE_WIKI_ENDPOINT"); wiki != "" {
		c.WikiEndpoint = wiki
	}
	if regions := os.Getenv("CORE_REGIONS"); regions != "" {
		if parsed := splitList(regions); len(parsed) > 0 {
			c.Regions = parsed
		}
	}
	if retries := os.Getenv("CORE_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			c.Retries = n
		}
	}
	if timeout := os.Getenv("CORE_TIMEOUT_SECONDS"); timeout != "" {
		if n, err := strconv.Atoi(timeout); err == nil {
			c.TimeoutSeconds = n
		}
	}
	if knowledge := os.Getenv("CORE_KNOWLEDGE_PATH"); knowledge != "" {
		c.KnowledgePath = knowledge
	}
	if schedule := os.Getenv("CORE_LEARN_SCHEDULE"); schedule != "" {
		c.LearnSchedule = schedule
	}
	if topics := os.Getenv("CORE_DEFAULT_TOPICS"); topics != "" {
		if parsed := splitList(topics); len(parsed) > 0 {
			c.DefaultTopics = parsed
		}
	}
	if addr := os.Getenv("CORE_LISTEN_ADDRESS"); addr != "" {
		c.ListenAddress = addr
	}
	if metrics := os.Getenv("CORE_METRICS_ENABLED"); metrics != "" {
		c.MetricsEnabled = metrics == "true" || metrics == "1"
	}
	if lexicon := os.Getenv("CORE_LEXICON_PATH"); lexicon != "" {
		c.LexiconPath = lexicon
	}
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Timeout is the per-request web timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff is the base delay between search retries.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

// Context key for storing config in context
type configContextKey struct{}

// WithConfig adds the config to the context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey{}, cfg)
}

// FromContext retrieves the config from the context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configContextKey{}).(*Config); ok {
		return cfg
	}
	return nil
}

// Validate verifies the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("database path is empty")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("search limit must be positive")
	}
	if c.WebSkipScore < 0 {
		return fmt.Errorf("web skip score cannot be negative")
	}
	if c.MinScore < 0 {
		return fmt.Errorf("min score cannot be negative")
	}
	if c.MaxFacts <= 0 {
		return fmt.Errorf("max facts must be positive")
	}
	if c.SummaryLines <= 0 {
		return fmt.Errorf("summary lines must be positive")
	}
	if c.WebProvider != "duckduckgo" {
		return fmt.Errorf("unknown web provider: %q", c.WebProvider)
	}
	if strings.TrimSpace(c.SearchEndpoint) == "" {
		return fmt.Errorf("search endpoint is empty")
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one search region is required")
	}
	if c.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.BackoffMillis < 0 {
		return fmt.Errorf("backoff cannot be negative")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("web timeout must be positive")
	}
	if c.MaxFetchChars <= 0 {
		return fmt.Errorf("max fetch chars must be positive")
	}
	if c.MaxResults <= 0 || c.FetchPages < 0 || c.FetchConcurrency <= 0 {
		return fmt.Errorf("web result limits must be positive")
	}
	if c.LearnMaxLines <= 0 || c.LearnMinLineChars < 0 || c.LearnResults <= 0 {
		return fmt.Errorf("learn limits must be positive")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen address is empty")
	}
	return nil
}
