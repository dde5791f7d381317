package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Dialect carries the backend-specific DDL. Migrations are keyed by the schema
// version they migrate to; each statement is executed on its own.
type Dialect struct {
	Name string

	// MetaDDL creates the link_meta key/value table that records the schema version.
	MetaDDL string

	Migrations map[int][]string
}

// LatestVersion is the highest migration version the dialect knows about.
func (d Dialect) LatestVersion() int {
	latest := 0
	for v := range d.Migrations {
		if v > latest {
			latest = v
		}
	}
	return latest
}

// SchemaVersion returns the applied schema version, 0 for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if _, err := s.exec(ctx, s.dialect.MetaDDL); err != nil {
		return 0, fmt.Errorf("create link_meta: %w", err)
	}
	var val string
	err := s.queryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&val)
	}, `SELECT value FROM link_meta WHERE meta_key = 'schema_version'`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", val, err)
	}
	return v, nil
}

// Migrate applies every pending migration in order and returns the versions it
// moved between. It is a no-op on an up-to-date database.
func (s *Store) Migrate(ctx context.Context) (from, to int, err error) {
	from, err = s.SchemaVersion(ctx)
	if err != nil {
		return 0, 0, err
	}

	versions := make([]int, 0, len(s.dialect.Migrations))
	for v := range s.dialect.Migrations {
		if v > from {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)

	to = from
	for _, v := range versions {
		// Statements run outside a transaction and must be re-runnable.
		for _, stmt := range s.dialect.Migrations[v] {
			if _, err := s.exec(ctx, stmt); err != nil {
				return from, to, fmt.Errorf("%s migration %d: %w", s.dialect.Name, v, err)
			}
		}
		if err := s.setSchemaVersion(ctx, v); err != nil {
			return from, to, err
		}
		to = v
	}
	return from, to, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM link_meta WHERE meta_key = 'schema_version'`); err != nil {
			return fmt.Errorf("clear schema version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO link_meta (meta_key, value) VALUES ('schema_version', ?)`, strconv.Itoa(v)); err != nil {
			return fmt.Errorf("set schema version %d: %w", v, err)
		}
		return nil
	})
}
