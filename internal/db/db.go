// Package db is the data store adapter: a single SQLite file reached through
// a connection opened for each operation and closed on every exit path.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/hazyhaar/pkg/trace" // registers the "sqlite-trace" driver
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dbmcp/internal/config"
	"github.com/hazyhaar/dbmcp/internal/errs"
)

const (
	plainDriver  = "sqlite"
	tracedDriver = "sqlite-trace"
)

// Store owns the database file. It holds no connection between calls.
type Store struct {
	path          string
	busyTimeoutMs int
	driver        string
}

// Option configures a Store.
type Option func(*Store)

// WithTracing opens connections through the tracing driver, so every
// statement is logged and, once trace.SetStore is called, persisted.
func WithTracing() Option {
	return func(s *Store) { s.driver = tracedDriver }
}

func New(cfg config.DatabaseConfig, opts ...Option) *Store {
	s := &Store{path: cfg.Path, busyTimeoutMs: cfg.BusyTimeoutMs, driver: plainDriver}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Initialize creates the data directory and the known tables. It is
// idempotent and safe to call on every startup.
func (s *Store) Initialize(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Storage("creating data dir", err)
		}
	}
	return s.withConn(ctx, false, func(c *conn) error {
		_, err := c.exec(ctx, schema)
		return errs.Storage("creating tables", err)
	})
}

// fileDSN builds a SQLite URI for path. The path is percent-escaped so that
// '?', '#' and '%' stay part of the file name.
func fileDSN(path string, pragmas ...string) string {
	q := url.Values{"_pragma": pragmas}
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}

func (s *Store) dsn(readOnly bool) string {
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", s.busyTimeoutMs),
		"foreign_keys(1)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	}
	return fileDSN(s.path, pragmas...)
}

// withConn opens a single-connection handle for the duration of fn.
func (s *Store) withConn(ctx context.Context, readOnly bool, fn func(*conn) error) error {
	sqlDB, err := sql.Open(s.driver, s.dsn(readOnly))
	if err != nil {
		return errs.Storage("opening database", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.Storage("opening database", err)
	}
	return fn(&conn{db: sqlDB})
}

// conn is the per-call handle. Rows must be closed before the next
// statement since the pool holds one connection.
type conn struct {
	db *sql.DB
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	return c.db.QueryRowContext(ctx, query, args...).Scan(dest...)
}
