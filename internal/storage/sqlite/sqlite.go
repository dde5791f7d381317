// Package sqlite is the default link store backend: a single local SQLite file
// opened through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/steveyegge/portalsync/internal/storage/sqlstore"
)

// Dialect is the SQLite schema.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	MetaDDL: `CREATE TABLE IF NOT EXISTS link_meta (
		meta_key TEXT PRIMARY KEY,
		value    TEXT NOT NULL
	)`,
	Migrations: map[int][]string{
		1: {
			`CREATE TABLE IF NOT EXISTS issue_links (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				portal_issue_id   INTEGER NOT NULL UNIQUE,
				internal_issue_id INTEGER NOT NULL UNIQUE,
				created_at        INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS comment_links (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				portal_issue_id     INTEGER NOT NULL,
				internal_issue_id   INTEGER NOT NULL,
				portal_comment_id   INTEGER NOT NULL UNIQUE,
				internal_comment_id INTEGER NOT NULL UNIQUE,
				created_at          INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_comment_links_portal_issue ON comment_links(portal_issue_id)`,
		},
		2: {
			`CREATE TABLE IF NOT EXISTS version_links (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				portal_version_id   INTEGER NOT NULL UNIQUE,
				internal_version_id INTEGER NOT NULL UNIQUE,
				created_at          INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_issue_links_created ON issue_links(created_at)`,
		},
	},
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// Open opens or creates the database at path and applies pending migrations.
// The special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	store := sqlstore.New(db, Dialect, opts...)
	if _, _, err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
