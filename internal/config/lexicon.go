package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed lexicon.toml
var defaultLexicon []byte

// SmallTalkEntry pairs a trigger phrase with its canned reply.
type SmallTalkEntry struct {
	Phrase string `toml:"phrase"`
	Reply  string `toml:"reply"`
}

// TopicBucket maps conversation keywords to learning-loop seed topics.
type TopicBucket struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
	Topics   []string `toml:"topics"`
}

// Messages are the fixed user-facing strings.
type Messages struct {
	EmptyQuery    string `toml:"empty_query"`
	NoInformation string `toml:"no_information"`
	FilesHeader   string `toml:"files_header"`
	IssuesHeader  string `toml:"issues_header"`
	LearnSummary  string `toml:"learn_summary"`
	ArtifactFact  string `toml:"artifact_fact"`
}

// Lexicon is the immutable word and phrase configuration shared by the
// normalizer, classifier, pipeline and learning loop. Small-talk entries
// keep file order because the first matching phrase wins.
type Lexicon struct {
	Stopwords        []string         `toml:"stopwords"`
	SmallTalk        []SmallTalkEntry `toml:"small_talk"`
	Openers          []string         `toml:"openers"`
	ProjectKeywords  []string         `toml:"project_keywords"`
	CodeKeywords     []string         `toml:"code_keywords"`
	QualityBlocklist []string         `toml:"quality_blocklist"`
	ErrorMarkers     []string         `toml:"error_markers"`
	DefaultTopics    []string         `toml:"default_topics"`
	TopicBuckets     []TopicBucket    `toml:"topic_buckets"`
	Messages         Messages         `toml:"messages"`
}

// DefaultLexicon parses the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

// LoadLexicon reads the lexicon at path, or the embedded one when path is empty.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes and validates a TOML lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := toml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// Validate checks the entries the pipeline cannot work without.
func (l *Lexicon) Validate() error {
	if len(l.Openers) == 0 {
		return fmt.Errorf("lexicon: at least one opener is required")
	}
	for i, entry := range l.SmallTalk {
		if strings.TrimSpace(entry.Phrase) == "" || strings.TrimSpace(entry.Reply) == "" {
			return fmt.Errorf("lexicon: small_talk entry %d is incomplete", i)
		}
	}
	if l.Messages.EmptyQuery == "" || l.Messages.NoInformation == "" {
		return fmt.Errorf("lexicon: empty_query and no_information messages are required")
	}
	if !strings.Contains(l.Messages.LearnSummary, "%d") {
		return fmt.Errorf("lexicon: learn_summary must contain %%d")
	}
	return nil
}
