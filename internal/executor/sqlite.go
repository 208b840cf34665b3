package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/roach88/querygate/internal/validate"
)

// SQLite executes statements against a SQLite database file opened
// read-only.
type SQLite struct {
	db      *sql.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// sqliteDSN builds a URI that opens path read-only on every connection.
//
//   - mode=ro: SQLite refuses to open the file for writing
//   - _query_only=1: PRAGMA query_only on each new connection
//   - _busy_timeout=5000: wait for locks held by the loader process
func sqliteDSN(path string) string {
	u := url.URL{Scheme: "file", Opaque: path}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_query_only", "1")
	q.Set("_busy_timeout", "5000")
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenSQLite opens the database at path. The file must exist; the executor
// never creates or migrates it.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("open sqlite: empty database path")
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite %s: %w", path, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	s := &SQLite{
		db:      db,
		timeout: opts.QueryTimeout,
		logger:  opts.Logger.With().Str("component", "executor").Str("driver", DriverSQLite).Logger(),
	}

	if err := s.verifyPragma("query_only", "1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: connection is not read-only: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("sqlite store opened read-only")
	return s, nil
}

// Execute implements Executor.
func (s *SQLite) Execute(ctx context.Context, stmt validate.Statement, limit int) (*QueryResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("execute: limit must be positive, got %d", limit)
	}

	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(qctx, stmt.SQL)
	if err != nil {
		return nil, s.classify(qctx, err)
	}
	defer rows.Close()

	res, err := collect(rows, limit)
	if err != nil {
		return nil, s.classify(qctx, err)
	}
	return res, nil
}

// Ping implements Executor.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Executor.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// classify turns driver errors into *ExecutionError.
func (s *SQLite) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutError(s.timeout, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return &ExecutionError{
			Message:       fmt.Sprintf("sqlite rejected the query (%s)", sqliteErr.Code.Error()),
			RawEngineText: sqliteErr.Error(),
		}
	}
	return &ExecutionError{
		Message:       "query execution failed",
		RawEngineText: err.Error(),
	}
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// collect reads at most limit rows from rows. Stopping early bounds the
// work SQLite performs: rows are produced one step at a time.
func collect(rows *sql.Rows, limit int) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Columns: cols, Rows: [][]any{}}
	for len(res.Rows) < limit && rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] = normalizeValue(vals[i])
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
