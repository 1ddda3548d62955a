package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

// KeyColumn holds the indicator key in SQLite source tables.
const KeyColumn = "indicator_id"

// SQLiteStore reads every row of one table whose indicator_id matches the key.
type SQLiteStore struct {
	db    *sql.DB
	query string
}

// NewSQLiteStore opens an existing database file. The table name must be a
// plain identifier.
func NewSQLiteStore(ctx context.Context, cfg config.SQLiteSourceConfig) (*SQLiteStore, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "sqlite database is not accessible").
			WithComponent("sqlite-source").WithKey(cfg.Path)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to open sqlite database").
			WithComponent("sqlite-source").WithKey(cfg.Path)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to connect to sqlite database").
			WithComponent("sqlite-source").WithKey(cfg.Path)
	}

	return &SQLiteStore{
		db:    db,
		query: fmt.Sprintf(`SELECT * FROM %q WHERE %s = ?`, cfg.Table, KeyColumn),
	}, nil
}

// Load returns the matching rows. Cells are rendered as strings and NULL
// becomes the empty string. No matching rows yields an empty table.
func (s *SQLiteStore) Load(ctx context.Context, key string) (*dataset.Table, error) {
	rows, err := s.db.QueryContext(ctx, s.query, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("sqlite-source", key, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, readFailed("sqlite-source", key, err)
	}

	table := &dataset.Table{Key: key, Columns: columns}
	for rows.Next() {
		cells := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, readFailed("sqlite-source", key, err)
		}

		row := make([]string, len(columns))
		for i, c := range cells {
			row[i] = c.String
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("sqlite-source", key, err)
	}

	return table, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("sqlite-source", "", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
