package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/recall"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/storage"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
	"go.uber.org/zap"
)

// Options configures a Store.
type Options struct {
	Blocklist []string
	MinScore  float64
	Params    recall.Params
	Logger    *zap.Logger
	Metrics   *recall.MetricsWriter
}

// snapshot pairs an index with the facts it was built from. Searches load
// one snapshot and never observe a partial rebuild.
type snapshot struct {
	index *recall.Index
	facts map[int64]Fact
}

// Store holds facts and the conversation log in SQLite and keeps an
// in-memory BM25 index over the facts. Mutations are serialized; searches
// run concurrently against the current snapshot.
type Store struct {
	db        *storage.DB
	norm      *textnorm.Normalizer
	blocklist []string
	minScore  float64
	params    recall.Params
	logger    *zap.Logger
	metrics   *recall.MetricsWriter

	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
	now     func() time.Time
}

// NewStore wraps db and builds the initial index.
func NewStore(ctx context.Context, db *storage.DB, norm *textnorm.Normalizer, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Params == (recall.Params{}) {
		opts.Params = recall.DefaultParams()
	}
	s := &Store{
		db:        db,
		norm:      norm,
		blocklist: opts.Blocklist,
		minScore:  opts.MinScore,
		params:    opts.Params,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
	if err := s.Rebuild(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// AddFact inserts text with the given source and rebuilds the index before
// returning. Duplicate texts are allowed.
func (s *Store) AddFact(ctx context.Context, text, source string) (Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fact{}, ErrEmptyText
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	fact := Fact{
		Text:         text,
		Source:       source,
		AddedAt:      time.Unix(s.now().Unix(), 0),
		QualityScore: QualityScore(text, s.blocklist),
	}

	err := s.db.Conn().QueryRowContext(ctx, `
		INSERT INTO facts (text, source, added_at, quality_score)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, fact.Text, fact.Source, fact.AddedAt.Unix(), fact.QualityScore).Scan(&fact.ID)
	if err != nil {
		return Fact{}, storageErr("insert fact", err)
	}

	if err := s.rebuildLocked(ctx); err != nil {
		return fact, err
	}
	return fact, nil
}

// SaveTurn appends a conversation turn.
func (s *Store) SaveTurn(ctx context.Context, user, assistant string) (Turn, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	turn := Turn{User: user, Assistant: assistant, Timestamp: time.Unix(s.now().Unix(), 0)}
	err := s.db.Conn().QueryRowContext(ctx, `
		INSERT INTO conv (user_msg, bot_msg, ts) VALUES (?, ?, ?) RETURNING id
	`, user, assistant, turn.Timestamp.Unix()).Scan(&turn.ID)
	if err != nil {
		return Turn{}, storageErr("insert turn", err)
	}
	return turn, nil
}

// Search ranks facts against q and returns at most limit hits scoring above
// the configured minimum, best first. It never fails; a cold store or a query
// with no usable tokens yields no hits.
func (s *Store) Search(ctx context.Context, q string, limit int) []SearchHit {
	start := time.Now()
	snap := s.snap.Load()
	if snap == nil || snap.index.Len() == 0 {
		return nil
	}

	tokens := s.norm.Tokens(q)
	if len(tokens) == 0 {
		s.recordSearch(q, "empty", nil, start)
		return nil
	}

	ranked := recall.Rank(snap.index.Score(tokens), s.minScore, limit)
	hits := make([]SearchHit, 0, len(ranked))
	for _, r := range ranked {
		fact, ok := snap.facts[r.ID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{FactID: fact.ID, Text: fact.Text, Source: fact.Source, Score: r.Score})
	}

	s.recordSearch(q, "search", hits, start)
	return hits
}

func (s *Store) recordSearch(q, queryType string, hits []SearchHit, start time.Time) {
	if s.metrics == nil {
		return
	}
	metric := SearchMetric(q, queryType, hits)
	metric.DurationMs = time.Since(start).Milliseconds()
	metric.CreatedAt = s.now()
	s.metrics.Write(metric)
}

// SearchMetric converts hits into a metrics record.
func SearchMetric(q, queryType string, hits []SearchHit) recall.SearchMetric {
	metric := recall.SearchMetric{Query: q, QueryType: queryType, HitCount: len(hits)}
	for _, h := range hits {
		metric.FactIDs = append(metric.FactIDs, h.FactID)
	}
	if len(hits) > 0 {
		metric.TopScore = hits[0].Score
	}
	return metric
}

// RecentTurns returns the latest limit turns, newest first.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, user_msg, bot_msg, ts FROM conv ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, storageErr("query turns", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ts int64
		if err := rows.Scan(&t.ID, &t.User, &t.Assistant, &ts); err != nil {
			return nil, storageErr("scan turn", err)
		}
		t.Timestamp = time.Unix(ts, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate turns", err)
	}
	return turns, nil
}

// Prune deletes the oldest facts (by timestamp, then id) until at most
// maxFacts remain, rebuilds the index and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxFacts int) (int, error) {
	if maxFacts < 0 {
		maxFacts = 0
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int
	if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&count); err != nil {
		return 0, storageErr("count facts", err)
	}
	if count <= maxFacts {
		return 0, nil
	}

	excess := count - maxFacts
	res, err := s.db.Conn().ExecContext(ctx, `
		DELETE FROM facts WHERE id IN (
			SELECT id FROM facts ORDER BY added_at ASC, id ASC LIMIT ?
		)
	`, excess)
	if err != nil {
		return 0, storageErr("prune facts", err)
	}
	removed, _ := res.RowsAffected()

	s.logger.Info("Pruned facts", zap.Int64("removed", removed), zap.Int("max_facts", maxFacts))
	if err := s.rebuildLocked(ctx); err != nil {
		return int(removed), err
	}
	return int(removed), nil
}

// CountFacts returns the number of stored facts.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&count); err != nil {
		return 0, storageErr("count facts", err)
	}
	return count, nil
}

// Facts returns every fact in id order.
func (s *Store) Facts(ctx context.Context) ([]Fact, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, text, source, added_at, quality_score FROM facts ORDER BY id ASC
	`)
	if err != nil {
		return nil, storageErr("query facts", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var addedAt int64
		if err := rows.Scan(&f.ID, &f.Text, &f.Source, &addedAt, &f.QualityScore); err != nil {
			return nil, storageErr("scan fact", err)
		}
		f.AddedAt = time.Unix(addedAt, 0)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate facts", err)
	}
	return facts, nil
}

// HasFact reports whether a fact with exactly this text and source exists.
func (s *Store) HasFact(ctx context.Context, text, source string) (bool, error) {
	var one int
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT 1 FROM facts WHERE text = ? AND source = ? LIMIT 1", text, source,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr("lookup fact", err)
	}
	return true, nil
}

// Rebuild reloads every fact and swaps in a fresh index.
func (s *Store) Rebuild(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Store) rebuildLocked(ctx context.Context) error {
	facts, err := s.Facts(ctx)
	if err != nil {
		return err
	}

	docs := make([]recall.Document, 0, len(facts))
	byID := make(map[int64]Fact, len(facts))
	for _, f := range facts {
		docs = append(docs, recall.Document{ID: f.ID, Tokens: s.norm.Tokens(f.Text)})
		byID[f.ID] = f
	}

	s.snap.Store(&snapshot{index: recall.Build(docs, s.params), facts: byID})
	s.logger.Debug("Rebuilt memory index", zap.Int("facts", len(facts)))
	return nil
}

// Stats gathers counts for the stats command and health checks.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{FactsBySource: make(map[string]int)}

	rows, err := s.db.Conn().QueryContext(ctx, "SELECT source, COUNT(*) FROM facts GROUP BY source")
	if err != nil {
		return stats, storageErr("facts by source", err)
	}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			rows.Close()
			return stats, storageErr("scan source count", err)
		}
		stats.FactsBySource[source] = n
		stats.Facts += n
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := s.db.Conn().QueryRowContext(ctx, "SELECT AVG(quality_score) FROM facts").Scan(&avg); err != nil {
		return stats, storageErr("average quality", err)
	}
	stats.AverageQuality = avg.Float64

	if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM conv").Scan(&stats.Turns); err != nil {
		return stats, storageErr("count turns", err)
	}
	if snap := s.snap.Load(); snap != nil {
		stats.Indexed = snap.index.Len()
	}
	return stats, nil
}
