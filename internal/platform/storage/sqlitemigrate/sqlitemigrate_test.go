package sqlitemigrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func memDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migration(sql string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(sql)}
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestApplyRunsFilesInOrderOnce(t *testing.T) {
	db := memDB(t)
	fsys := fstest.MapFS{
		"journal/002_snapshots.sql": migration("-- +migrate Up\nCREATE TABLE snapshots(cart_id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE snapshots;"),
		"journal/001_events.sql":    migration("-- +migrate Up\nCREATE TABLE events(cart_id TEXT, seq INTEGER);"),
		"journal/README.md":         migration("not sql"),
	}

	applied, err := Apply(context.Background(), db, fsys, "journal")
	require.NoError(t, err)
	assert.Equal(t, []string{"journal/001_events.sql", "journal/002_snapshots.sql"}, applied)
	assert.Equal(t, 2, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='snapshots'"))

	again, err := Apply(context.Background(), db, fsys, "journal")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestApplyLeavesFailedFileUnrecorded(t *testing.T) {
	db := memDB(t)
	broken := fstest.MapFS{"001_offsets.sql": migration("CREAT TABLE offsets(tag TEXT);")}
	_, err := Apply(context.Background(), db, broken, "")
	require.Error(t, err)
	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))

	fixed := fstest.MapFS{"001_offsets.sql": migration("CREATE TABLE offsets(tag TEXT);")}
	applied, err := Apply(context.Background(), db, fixed, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_offsets.sql"}, applied)
}

func TestApplyToleratesExistingObjects(t *testing.T) {
	db := memDB(t)
	_, err := db.Exec("CREATE TABLE cursors(tag TEXT PRIMARY KEY)")
	require.NoError(t, err)

	fsys := fstest.MapFS{"001_cursors.sql": migration("CREATE TABLE cursors(tag TEXT PRIMARY KEY);")}
	applied, err := Apply(context.Background(), db, fsys, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_cursors.sql"}, applied)
}

func TestApplyRequiresDB(t *testing.T) {
	_, err := Apply(context.Background(), nil, fstest.MapFS{}, "")
	assert.Error(t, err)
}

func TestExtractUpMigration(t *testing.T) {
	assert.Equal(t, "SELECT 1;", ExtractUpMigration("SELECT 1;"))
	assert.Equal(t, "\nSELECT 1;\n", ExtractUpMigration("-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;"))
}
