package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/pkg/errors"
)

func newTestDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdg.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE indicators (indicator_id TEXT NOT NULL, year INTEGER, region TEXT, value REAL)`,
		`INSERT INTO indicators VALUES ('SDG_1_1', 2019, 'North', 12.5)`,
		`INSERT INTO indicators VALUES ('SDG_1_1', 2020, NULL, 13.25)`,
		`INSERT INTO indicators VALUES ('SDG_2_1', 2020, 'South', 4)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func TestSQLiteStore_Load(t *testing.T) {
	path := newTestDatabase(t)
	store, err := NewSQLiteStore(context.Background(), config.SQLiteSourceConfig{Path: path, Table: "indicators"})
	require.NoError(t, err)
	defer store.Close()

	table, err := store.Load(context.Background(), "SDG_1_1")
	require.NoError(t, err)

	assert.Equal(t, []string{"indicator_id", "year", "region", "value"}, table.Columns)
	require.Equal(t, 2, table.Len())

	region, _ := table.Value(1, "region")
	assert.Equal(t, "", region)

	v, err := table.Float(1, "value")
	require.NoError(t, err)
	assert.InDelta(t, 13.25, v, 1e-9)
}

func TestSQLiteStore_Ping(t *testing.T) {
	path := newTestDatabase(t)
	store, err := NewSQLiteStore(context.Background(), config.SQLiteSourceConfig{Path: path, Table: "indicators"})
	require.NoError(t, err)

	var _ Pinger = store
	assert.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}

func TestSQLiteStore_UnknownKey(t *testing.T) {
	path := newTestDatabase(t)
	store, err := NewSQLiteStore(context.Background(), config.SQLiteSourceConfig{Path: path, Table: "indicators"})
	require.NoError(t, err)
	defer store.Close()

	table, err := store.Load(context.Background(), "SDG_9_9")
	require.NoError(t, err)
	assert.True(t, table.Empty())
	assert.Len(t, table.Columns, 4)
}

func TestSQLiteStore_MissingTable(t *testing.T) {
	path := newTestDatabase(t)
	store, err := NewSQLiteStore(context.Background(), config.SQLiteSourceConfig{Path: path, Table: "nope"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(context.Background(), "SDG_1_1")
	assert.Error(t, err)
}

func TestNewSQLiteStore_MissingFile(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), config.SQLiteSourceConfig{
		Path:  filepath.Join(t.TempDir(), "absent.db"),
		Table: "indicators",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
}
