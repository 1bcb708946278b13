package memory

import (
	"errors"
	"time"
)

// Source tags for facts
const (
	SourceAutolearn    = "autolearn"
	SourceCodegen      = "codegen"
	SourceConversation = "conversation"
	SourceCrawl        = "crawl"
	SourceManual       = "manual"
)

var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrEmptyText is returned when a fact has no text.
	ErrEmptyText = errors.New("fact text is empty")
)

// Fact is a short piece of text held in long-term memory. Immutable after insert.
type Fact struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	Source       string    `json:"source"`
	AddedAt      time.Time `json:"added_at"`
	QualityScore float64   `json:"quality_score"`
}

// Turn is one user/assistant exchange.
type Turn struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"ts"`
}

// SearchHit is a fact returned by Search with its relevance score.
type SearchHit struct {
	FactID int64   `json:"fact_id"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Stats summarizes the store contents.
type Stats struct {
	Facts          int            `json:"facts"`
	FactsBySource  map[string]int `json:"facts_by_source"`
	AverageQuality float64        `json:"average_quality"`
	Turns          int            `json:"turns"`
	Indexed        int            `json:"indexed"`
}
