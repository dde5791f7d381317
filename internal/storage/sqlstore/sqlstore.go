// Package sqlstore implements storage.LinkStore on database/sql. The sqlite and dolt
// backends open the connection and supply a Dialect; all link queries live here.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/steveyegge/portalsync/internal/storage"
)

// RetryFunc runs op, retrying it while it fails transiently.
type RetryFunc func(ctx context.Context, op func() error) error

// Store is a LinkStore backed by a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	retry   RetryFunc
	onClose func() error
	closed  atomic.Bool
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithRetry wraps every statement and transaction in fn.
func WithRetry(fn RetryFunc) Option {
	return func(s *Store) { s.retry = fn }
}

// WithCloser runs fn after the database is closed (e.g. to release an embedded engine).
func WithCloser(fn func() error) Option {
	return func(s *Store) { s.onClose = fn }
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps db. The schema is not touched; call Migrate.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		retry:   func(_ context.Context, op func() error) error { return op() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if s.onClose != nil {
		err = errors.Join(err, s.onClose())
	}
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (s *Store) queryRow(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	return s.retry(ctx, func() error {
		return scan(s.db.QueryRowContext(ctx, query, args...))
	})
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.retry(ctx, func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query, args...)
		return qErr
	})
	return rows, err
}

// withTx runs fn in a transaction; the whole transaction is retried as a unit.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) timestamp() int64 {
	return s.now().UTC().UnixNano()
}

func fromTimestamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// wrapDBError converts sql.ErrNoRows to storage.ErrNotFound and adds context.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ storage.LinkStore = (*Store)(nil)
