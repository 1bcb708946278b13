package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/recall"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/storage"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tcpFact = "TCP بروتوكول التحكم في الإرسال يضمن وصول البيانات بترتيبها."

func newTestStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lex, err := config.DefaultLexicon()
	require.NoError(t, err)

	store, err := NewStore(context.Background(), db, textnorm.New(lex.Stopwords), Options{
		Blocklist: lex.QualityBlocklist,
		MinScore:  config.DefaultMinScore,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return store, db
}

func TestAddFactThenSearchFindsIt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	texts := []string{
		tcpFact,
		"الذكاء الاصطناعي فرع من علوم الحاسوب",
		"Go language has goroutines and channels",
	}
	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			_, err := store.AddFact(ctx, text, SourceManual)
			require.NoError(t, err)

			hits := store.Search(ctx, text, 1)
			require.Len(t, hits, 1)
			assert.Equal(t, text, hits[0].Text)
		})
	}
}

func TestDuplicateInsertStillRetrievable(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.AddFact(ctx, tcpFact, SourceAutolearn)
	require.NoError(t, err)
	second, err := store.AddFact(ctx, tcpFact, SourceAutolearn)
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	hits := store.Search(ctx, tcpFact, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, tcpFact, hits[0].Text)
}

func TestWarmMemoryScoresAboveWebThreshold(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	fact, err := store.AddFact(ctx, tcpFact, SourceManual)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, fact.QualityScore, 1e-9)

	hits := store.Search(ctx, "ما هو TCP", 8)
	require.Len(t, hits, 1)
	assert.GreaterOrEqual(t, hits[0].Score, config.DefaultWebSkipScore)
}

func TestSearchColdAndEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.Empty(t, store.Search(ctx, "tcp", 5))

	_, err := store.AddFact(ctx, tcpFact, SourceManual)
	require.NoError(t, err)

	assert.Empty(t, store.Search(ctx, "ما هو", 5), "stopword-only query")
	assert.Empty(t, store.Search(ctx, "   ", 5))
	assert.Empty(t, store.Search(ctx, "udp", 5), "no overlap")
}

func TestSearchBoundedAndSorted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		text := fmt.Sprintf("الشبكات الحاسوبية تستخدم بروتوكول رقم %d لنقل البيانات", i)
		if i%3 == 0 {
			text = fmt.Sprintf("بروتوكول %d", i*100)
		}
		_, err := store.AddFact(ctx, text, SourceManual)
		require.NoError(t, err)
	}

	hits := store.Search(ctx, "بروتوكول الشبكات البيانات", 5)
	require.LessOrEqual(t, len(hits), 5)
	require.NotEmpty(t, hits)
	assert.True(t, sort.SliceIsSorted(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score }))
	for _, h := range hits {
		assert.Greater(t, h.Score, config.DefaultMinScore)
	}
}

func TestAddFactRejectsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.AddFact(context.Background(), "  ", SourceManual)
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestPruneKeepsNewest(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	clock := base
	store.now = func() time.Time { return clock }

	var ids []int64
	for i := 0; i < 10; i++ {
		// pairs share a timestamp so the id tiebreak is exercised
		clock = base.Add(time.Duration(i/2) * time.Second)
		f, err := store.AddFact(ctx, fmt.Sprintf("حقيقة رقم %d عن الشبكات", i), SourceManual)
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}

	removed, err := store.Prune(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	count, err := store.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	facts, err := store.Facts(ctx)
	require.NoError(t, err)
	var survivors []int64
	for _, f := range facts {
		survivors = append(survivors, f.ID)
	}
	assert.Equal(t, ids[5:], survivors)

	// The index no longer returns pruned facts.
	for _, h := range store.Search(ctx, "حقيقة الشبكات", 10) {
		assert.Contains(t, ids[5:], h.FactID)
	}

	removed, err = store.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTurns(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.SaveTurn(ctx, fmt.Sprintf("سؤال %d", i), fmt.Sprintf("جواب %d", i))
		require.NoError(t, err)
	}

	turns, err := store.RecentTurns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "سؤال 2", turns[0].User)
	assert.Equal(t, "جواب 2", turns[0].Assistant)
	assert.Equal(t, "سؤال 1", turns[1].User)

	none, err := store.RecentTurns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHasFactAndStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddFact(ctx, tcpFact, SourceAutolearn)
	require.NoError(t, err)
	_, err = store.AddFact(ctx, "رد قصير", SourceConversation)
	require.NoError(t, err)
	_, err = store.SaveTurn(ctx, "س", "ج")
	require.NoError(t, err)

	ok, err := store.HasFact(ctx, tcpFact, SourceAutolearn)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.HasFact(ctx, tcpFact, SourceConversation)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Facts)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 1, stats.Turns)
	assert.Equal(t, map[string]int{SourceAutolearn: 1, SourceConversation: 1}, stats.FactsBySource)
	assert.InDelta(t, 0.35, stats.AverageQuality, 1e-9)
}

func TestStorageUnavailable(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddFact(ctx, tcpFact, SourceManual)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = store.AddFact(ctx, "نص جديد بعد الإغلاق", SourceManual)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	_, err = store.SaveTurn(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	_, err = store.RecentTurns(ctx, 1)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// Search keeps serving the last good snapshot.
	assert.NotEmpty(t, store.Search(ctx, "tcp", 1))
}

func TestConcurrentSearchDuringInserts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := store.AddFact(ctx, fmt.Sprintf("بروتوكول الشبكات رقم %d", i), SourceManual)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			hits := store.Search(ctx, "بروتوكول", 8)
			assert.LessOrEqual(t, len(hits), 8)
		}
	}()
	wg.Wait()

	assert.Len(t, store.Search(ctx, "بروتوكول", 50), 20)
}

func TestSearchRecordsMetrics(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer db.Close()

	lex, err := config.DefaultLexicon()
	require.NoError(t, err)
	mw := recall.NewMetricsWriter(db.Conn(), zap.NewNop())

	store, err := NewStore(context.Background(), db, textnorm.New(lex.Stopwords), Options{MinScore: 0.1, Metrics: mw})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.AddFact(ctx, tcpFact, SourceManual)
	require.NoError(t, err)
	store.Search(ctx, "tcp", 3)
	store.Search(ctx, "ما هو", 3)
	mw.Close()

	summary, err := recall.Summarize(db.Conn())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Searches)
	assert.Equal(t, 1, summary.EmptyQueries)
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"short", "نص قصير", 0.1},
		{"blocklisted", "اضغط هنا للحصول على أفضل العروض والخصومات اليوم.", 0.1},
		{"period and words", tcpFact, 0.6},
		{"everything", "في عام 1974 نشر فينت سيرف وبوب كان ورقة تصف بروتوكول التحكم في الإرسال، وأصبح لاحقا أساس شبكة الإنترنت الحديثة كلها.", 1.0},
		{"digit only", "الإصدار 2 من البرنامج متاح الآن للجميع", 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, QualityScore(tt.text, []string{"اضغط هنا"}), 1e-9)
		})
	}
}
