package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))
	assert.Equal(t, dbPath, db.Path())

	versions, err := db.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_facts_conv.sql", "002_recall_metrics.sql"}, versions)

	for _, table := range []string{"facts", "conv", "recall_metrics"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO facts (text, source, added_at, quality_score) VALUES ('x', 'test', 1, 0.1)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM facts").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestFactsRejectEmptyText(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec("INSERT INTO facts (text, source, added_at, quality_score) VALUES ('', 'test', 1, 0.1)")
	assert.Error(t, err)
}

func TestCheckCleanDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec("INSERT INTO facts (text, source, added_at, quality_score) VALUES ('TCP بروتوكول', 'manual', 1, 0.5)")
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO conv (user_msg, bot_msg, ts) VALUES ('سؤال', 'جواب', 1)")
	require.NoError(t, err)

	report, err := db.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "%+v", report)
	assert.Equal(t, "ok", report.Integrity)
	assert.Equal(t, 1, report.Facts)
	assert.Equal(t, 1, report.Turns)
	assert.Empty(t, report.Pending)
	assert.Len(t, report.Migrations, 2)
}

func TestCheckReportsBadRows(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	future := time.Now().Add(48 * time.Hour).Unix()
	_, err = db.Conn().Exec("INSERT INTO facts (text, source, added_at, quality_score) VALUES ('   ', 'manual', 1, 0.5)")
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO facts (text, source, added_at, quality_score) VALUES ('نص', 'manual', ?, 0.5)", future)
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO conv (user_msg, bot_msg, ts) VALUES ('', 'جواب', 1)")
	require.NoError(t, err)

	report, err := db.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	assert.Equal(t, []string{
		"1 blank facts",
		"1 turns without a user message",
		"1 rows dated in the future",
	}, report.Problems)
}

func TestCheckReportsPendingMigrations(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec("DELETE FROM schema_migrations WHERE version = '002_recall_metrics.sql'")
	require.NoError(t, err)

	report, err := db.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"002_recall_metrics.sql"}, report.Pending)
	assert.False(t, report.Healthy())
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO schema_migrations (version, applied_at) VALUES ('999_future.sql', 1)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(dbPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaAhead)
	assert.Contains(t, err.Error(), "999_future.sql")
}

func TestReopenAppliesMissingMigration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	_, err = db.Conn().Exec("DROP TABLE recall_metrics")
	require.NoError(t, err)
	_, err = db.Conn().Exec("DELETE FROM schema_migrations WHERE version = '002_recall_metrics.sql'")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	report, err := db.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "%+v", report)
}
