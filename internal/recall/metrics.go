package recall

import (
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	metricsBufferSize = 100
)

// SearchMetric represents a single memory search.
type SearchMetric struct {
	Query      string
	QueryType  string // "empty" or "search"
	FactIDs    []int64
	HitCount   int
	TopScore   float64
	DurationMs int64
	CreatedAt  time.Time
}

// MetricsWriter handles async writing of search metrics to the database.
type MetricsWriter struct {
	db        *sql.DB
	logger    *zap.Logger
	metrics   chan SearchMetric
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewMetricsWriter creates a new async metrics writer.
// Pass nil for db to disable metrics writing.
func NewMetricsWriter(db *sql.DB, logger *zap.Logger) *MetricsWriter {
	if db == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mw := &MetricsWriter{
		db:      db,
		logger:  logger,
		metrics: make(chan SearchMetric, metricsBufferSize),
		done:    make(chan struct{}),
	}

	mw.wg.Add(1)
	go mw.writeLoop()

	return mw
}

// Write queues a metric for async writing. Non-blocking; drops if buffer full.
func (mw *MetricsWriter) Write(metric SearchMetric) {
	if mw == nil || mw.closed.Load() {
		return
	}

	select {
	case mw.metrics <- metric:
	default:
		mw.logger.Debug("Metrics buffer full, dropping metric",
			zap.String("query", metric.Query),
		)
	}
}

// Close gracefully shuts down the metrics writer, flushing pending writes.
func (mw *MetricsWriter) Close() {
	if mw == nil {
		return
	}

	mw.closeOnce.Do(func() {
		mw.closed.Store(true)
		close(mw.done)
	})
	mw.wg.Wait()
}

func (mw *MetricsWriter) writeLoop() {
	defer mw.wg.Done()

	for {
		select {
		case metric := <-mw.metrics:
			mw.writeMetric(metric)
		case <-mw.done:
			for {
				select {
				case metric := <-mw.metrics:
					mw.writeMetric(metric)
				default:
					return
				}
			}
		}
	}
}

func (mw *MetricsWriter) writeMetric(metric SearchMetric) {
	factIDsJSON, err := json.Marshal(metric.FactIDs)
	if err != nil || metric.FactIDs == nil {
		factIDsJSON = []byte("[]")
	}

	_, err = mw.db.Exec(`
		INSERT INTO recall_metrics (
			query, query_type, fact_ids, hit_count, top_score, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		metric.Query,
		metric.QueryType,
		string(factIDsJSON),
		metric.HitCount,
		metric.TopScore,
		metric.DurationMs,
		metric.CreatedAt.Unix(),
	)
	if err != nil {
		mw.logger.Error("Failed to write search metric",
			zap.Error(err),
			zap.String("query", metric.Query),
		)
	}
}

// MetricsSummary aggregates the recorded searches.
type MetricsSummary struct {
	Searches      int
	EmptyQueries  int
	ZeroHit       int
	AvgHits       float64
	AvgDurationMs float64
}

// Summarize reads aggregate figures from recall_metrics.
func Summarize(db *sql.DB) (MetricsSummary, error) {
	var s MetricsSummary
	var avgHits, avgDuration sql.NullFloat64
	err := db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN query_type = 'empty' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN query_type = 'search' AND hit_count = 0 THEN 1 ELSE 0 END), 0),
			AVG(hit_count),
			AVG(duration_ms)
		FROM recall_metrics
	`).Scan(&s.Searches, &s.EmptyQueries, &s.ZeroHit, &avgHits, &avgDuration)
	if err != nil {
		return s, err
	}
	s.AvgHits = avgHits.Float64
	s.AvgDurationMs = avgDuration.Float64
	return s, nil
}
