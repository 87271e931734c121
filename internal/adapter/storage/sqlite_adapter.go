package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rl1809/carbon-exchange/internal/port"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		seq         INTEGER NOT NULL PRIMARY KEY,
		id          TEXT    NOT NULL UNIQUE,
		type        TEXT    NOT NULL,
		actor       TEXT    NOT NULL,
		occurred_at INTEGER NOT NULL,
		payload     TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
}

var _ port.EventStore = (*SQLiteAdapter)(nil)

// SQLiteAdapter stores the event log in a single SQLite file.
type SQLiteAdapter struct {
	sqlEventStore
}

// OpenSQLite opens (creating if needed) the database at path. Call Migrate
// before use.
func OpenSQLite(path string) (*SQLiteAdapter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// single writer avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return &SQLiteAdapter{sqlEventStore{
		db:          db,
		schema:      sqliteSchema,
		lockLastSeq: lastSeqSQL,
		isDuplicate: isSQLiteConstraint,
	}}, nil
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
