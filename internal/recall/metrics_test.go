package recall

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMetricsWriterFlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	db, err := storage.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer db.Close()

	mw := NewMetricsWriter(db.Conn(), zap.NewNop())
	mw.Write(SearchMetric{Query: "tcp", QueryType: "search", FactIDs: []int64{1, 2}, HitCount: 2, TopScore: 1.8, CreatedAt: time.Now()})
	mw.Write(SearchMetric{Query: "", QueryType: "empty", CreatedAt: time.Now()})
	mw.Write(SearchMetric{Query: "nothing", QueryType: "search", CreatedAt: time.Now()})
	mw.Close()
	mw.Close()

	// Writes after close are ignored.
	mw.Write(SearchMetric{Query: "late", QueryType: "search", CreatedAt: time.Now()})

	summary, err := Summarize(db.Conn())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Searches)
	assert.Equal(t, 1, summary.EmptyQueries)
	assert.Equal(t, 1, summary.ZeroHit)
	assert.InDelta(t, 2.0/3.0, summary.AvgHits, 1e-9)
}

func TestNilMetricsWriter(t *testing.T) {
	mw := NewMetricsWriter(nil, nil)
	assert.Nil(t, mw)
	mw.Write(SearchMetric{Query: "x"})
	mw.Close()
}
