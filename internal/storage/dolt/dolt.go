// Package dolt stores links in a Dolt database, either through a running dolt
// sql-server (MySQL protocol) or through the embedded engine.
//
// Connection modes:
//   - Server: multi-writer, transient errors are retried with exponential backoff
//   - Embedded: no server required, needs cgo; the driver retries opens itself
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"github.com/steveyegge/portalsync/internal/storage/sqlstore"
)

// Config holds Dolt connection settings.
type Config struct {
	Path     string // embedded database directory
	Database string // database name (default: portalsync)

	ServerMode bool
	Host       string // default: 127.0.0.1
	Port       int    // default: 3307
	User       string // default: root
	Password   string // can be set via PSYNC_DOLT_PASSWORD
	TLS        bool

	// DSN overrides Host/Port/User/Password in server mode.
	DSN string
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "portalsync"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 3307
	}
	if c.User == "" {
		c.User = "root"
	}
	if c.Password == "" {
		c.Password = os.Getenv("PSYNC_DOLT_PASSWORD")
	}
}

// Dialect is the MySQL-flavoured schema Dolt understands.
var Dialect = sqlstore.Dialect{
	Name: "dolt",
	MetaDDL: "CREATE TABLE IF NOT EXISTS link_meta (" +
		"meta_key VARCHAR(64) PRIMARY KEY, " +
		"value TEXT NOT NULL)",
	Migrations: map[int][]string{
		1: {
			`CREATE TABLE IF NOT EXISTS issue_links (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				portal_issue_id BIGINT NOT NULL,
				internal_issue_id BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				UNIQUE KEY uq_issue_links_portal (portal_issue_id),
				UNIQUE KEY uq_issue_links_internal (internal_issue_id)
			)`,
			`CREATE TABLE IF NOT EXISTS comment_links (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				portal_issue_id BIGINT NOT NULL,
				internal_issue_id BIGINT NOT NULL,
				portal_comment_id BIGINT NOT NULL,
				internal_comment_id BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				UNIQUE KEY uq_comment_links_portal (portal_comment_id),
				UNIQUE KEY uq_comment_links_internal (internal_comment_id),
				KEY idx_comment_links_portal_issue (portal_issue_id)
			)`,
		},
		2: {
			`CREATE TABLE IF NOT EXISTS version_links (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				portal_version_id BIGINT NOT NULL,
				internal_version_id BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				UNIQUE KEY uq_version_links_portal (portal_version_id),
				UNIQUE KEY uq_version_links_internal (internal_version_id)
			)`,
		},
	},
}

// Open connects according to cfg and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	cfg.applyDefaults()
	if err := validateDatabaseName(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name %q: %w", cfg.Database, err)
	}

	var (
		store *sqlstore.Store
		err   error
	)
	if cfg.ServerMode {
		store, err = openServer(ctx, &cfg)
	} else {
		store, err = openEmbedded(ctx, &cfg)
	}
	if err != nil {
		return nil, err
	}

	if _, _, err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func openServer(ctx context.Context, cfg *Config) (*sqlstore.Store, error) {
	if cfg.DSN == "" {
		// Fail fast before the MySQL driver starts its own timeouts.
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("dolt server unreachable at %s: %w\n\nStart it with:\n  dolt sql-server", addr, err)
		}
		_ = conn.Close()
	}

	initDB, err := sql.Open("mysql", serverDSN(cfg, ""))
	if err != nil {
		return nil, fmt.Errorf("open init connection: %w", err)
	}
	defer func() { _ = initDB.Close() }()
	err = withRetry(ctx, func() error {
		_, execErr := initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return execErr
	})
	if err != nil && !isDatabaseExists(err) {
		return nil, fmt.Errorf("create database: %w", err)
	}

	db, err := sql.Open("mysql", serverDSN(cfg, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open dolt server connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := withRetry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping dolt server: %w", err)
	}
	return sqlstore.New(db, Dialect, sqlstore.WithRetry(withRetry)), nil
}

// serverDSN builds a go-sql-driver DSN. An empty database connects without
// selecting one.
func serverDSN(cfg *Config, database string) string {
	if cfg.DSN != "" {
		return replaceDSNDatabase(cfg.DSN, database)
	}
	user := cfg.User
	if cfg.Password != "" {
		user += ":" + cfg.Password
	}
	params := "parseTime=true"
	if cfg.TLS {
		params += "&tls=true"
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, cfg.Host, cfg.Port, database, params)
}

// replaceDSNDatabase swaps the "/dbname" segment of a DSN.
func replaceDSNDatabase(dsn, database string) string {
	slash := strings.LastIndex(dsn, "/")
	if slash < 0 {
		return dsn
	}
	rest := ""
	if q := strings.Index(dsn[slash:], "?"); q >= 0 {
		rest = dsn[slash+q:]
	}
	return dsn[:slash+1] + database + rest
}

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

func validateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("must be 1-64 letters, digits or underscores")
	}
	return nil
}

// isDatabaseExists reports Dolt's error 1007, which it can return even with IF NOT EXISTS.
func isDatabaseExists(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "database exists") || strings.Contains(s, "1007")
}

const serverRetryMaxElapsed = 30 * time.Second

func newServerRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = serverRetryMaxElapsed
	return bo
}

// isRetryableError reports transient connection errors worth retrying in server mode.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, transient := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection", // MySQL 2013
		"gone away",       // MySQL 2006
		"i/o timeout",
	} {
		if strings.Contains(s, transient) {
			return true
		}
	}
	return false
}

func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newServerRetryBackoff(), ctx))
}
