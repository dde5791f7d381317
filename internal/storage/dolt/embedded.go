//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"

	"github.com/steveyegge/portalsync/internal/storage/sqlstore"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

func openEmbedded(ctx context.Context, cfg *Config) (*sqlstore.Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("dolt: embedded mode needs a path")
	}
	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	// Relative paths get doubled by the driver's working directory handling.
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}

	const committer = "commitname=portalsync&commitemail=portalsync@localhost"
	initDSN := fmt.Sprintf("file://%s?%s", absPath, committer)
	dbDSN := fmt.Sprintf("file://%s?%s&database=%s", absPath, committer, cfg.Database)

	err = withEmbeddedDolt(ctx, initDSN, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create dolt database: %w", err)
	}

	openCfg, err := embedded.ParseDSN(dbDSN)
	if err != nil {
		return nil, fmt.Errorf("parse dolt DSN: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()
	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, fmt.Errorf("create dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// The driver keeps the context of the first connection for the session, so it
	// must not be one the caller may cancel.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("ping dolt database: %w", err)
	}
	return sqlstore.New(db, Dialect, sqlstore.WithCloser(connector.Close)), nil
}

// withEmbeddedDolt runs fn against a connector that is closed before returning,
// releasing the engine's filesystem locks.
func withEmbeddedDolt(ctx context.Context, dsn string, fn func(ctx context.Context, db *sql.DB) error) (err error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return err
	}
	cfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return err
	}
	db := sql.OpenDB(connector)
	defer func() {
		err = errors.Join(err, ignoreCanceled(db.Close()), ignoreCanceled(connector.Close()))
	}()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return fn(ctx, db)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
