package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/roach88/querygate/internal/validate"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Executor runs validated statements.
type Executor interface {
	// Execute runs stmt and returns at most limit rows. Engine failures are
	// returned as *ExecutionError.
	Execute(ctx context.Context, stmt validate.Statement, limit int) (*QueryResult, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// QueryResult is an ordered set of rows. Values in each row are aligned with
// Columns.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// RowCount returns the number of rows returned.
func (r *QueryResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ExecutionError is an engine-level rejection of a statement that passed
// validation.
type ExecutionError struct {
	// Message is a short description suitable for callers.
	Message string

	// RawEngineText is the driver's error text, passed through unchanged.
	RawEngineText string

	// Timeout is set when the statement exceeded the configured ceiling.
	Timeout bool
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.RawEngineText != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.RawEngineText)
	}
	return e.Message
}

// Options configures a backend.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int

	// QueryTimeout bounds wall-clock time per statement. Zero disables it.
	QueryTimeout time.Duration

	Logger zerolog.Logger
}

// Open returns the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Executor, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return OpenSQLite(opts.DSN, opts)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN, opts)
	default:
		return nil, fmt.Errorf("open executor: unknown driver %q", opts.Driver)
	}
}

// withTimeout applies the statement ceiling when one is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutError reports a statement that ran past its ceiling.
func timeoutError(d time.Duration, err error) *ExecutionError {
	raw := ""
	if err != nil {
		raw = err.Error()
	}
	return &ExecutionError{
		Message:       fmt.Sprintf("query exceeded the %s time limit", d),
		RawEngineText: raw,
		Timeout:       true,
	}
}

// normalizeValue converts driver values to JSON-friendly scalars.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case string, bool, int64, float64:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return fmt.Sprint(val)
		}
		return int64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case map[string]any, []any:
		return val
	default:
		return fmt.Sprint(val)
	}
}
