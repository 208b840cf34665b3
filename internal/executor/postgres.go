package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"github.com/roach88/querygate/internal/validate"
)

// Postgres executes statements inside READ ONLY transactions on a pgx pool.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

// OpenPostgres connects to dsn and verifies the server is reachable.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	logger := opts.Logger.With().Str("component", "executor").Str("driver", DriverPostgres).Logger()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn %s: %w", MaskDSN(dsn), err)
	}
	cfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zerologadapter.NewLogger(logger),
		LogLevel: tracelog.LogLevelWarn,
	}
	if opts.MaxOpenConns > 0 {
		cfg.MaxConns = int32(opts.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s: %w", MaskDSN(dsn), err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", MaskDSN(dsn), err)
	}

	logger.Debug().Str("dsn", MaskDSN(dsn)).Msg("postgres pool ready")
	return &Postgres{pool: pool, timeout: opts.QueryTimeout, logger: logger}, nil
}

// Execute implements Executor. The transaction is rolled back on every path.
func (p *Postgres) Execute(ctx context.Context, stmt validate.Statement, limit int) (*QueryResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("execute: limit must be positive, got %d", limit)
	}

	qctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.pool.BeginTx(qctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, p.classify(qctx, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(qctx, stmt.SQL)
	if err != nil {
		return nil, p.classify(qctx, err)
	}
	defer rows.Close()

	res := &QueryResult{Rows: [][]any{}}
	for len(res.Rows) < limit && rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, p.classify(qctx, err)
		}
		for i := range vals {
			vals[i] = normalizeValue(vals[i])
		}
		res.Rows = append(res.Rows, vals)
	}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, p.classify(qctx, err)
	}
	if res.Columns == nil {
		res.Columns = []string{}
	}
	return res, nil
}

// Ping implements Executor.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Executor.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutError(p.timeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		raw := pgErr.Message
		if pgErr.Detail != "" {
			raw += ": " + pgErr.Detail
		}
		return &ExecutionError{
			Message:       fmt.Sprintf("postgres rejected the query (SQLSTATE %s)", pgErr.Code),
			RawEngineText: raw,
		}
	}
	return &ExecutionError{
		Message:       "query execution failed",
		RawEngineText: err.Error(),
	}
}
