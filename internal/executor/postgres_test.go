package executor

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pgTestDSNEnv names a scratch database for the Postgres tests. They are
// skipped when it is unset.
const pgTestDSNEnv = "QUERYGATE_TEST_PG_DSN"

func openTestPostgres(t *testing.T, opts Options) (*Postgres, string) {
	t.Helper()
	dsn := os.Getenv(pgTestDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", pgTestDSNEnv)
	}
	opts.Logger = zerolog.Nop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := OpenPostgres(ctx, dsn, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, dsn
}

// seedPostgresTable creates a throwaway table with n rows over a writable
// connection and returns its name.
func seedPostgresTable(t *testing.T, dsn string, n int) string {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(context.Background()) })

	table := fmt.Sprintf("querygate_test_%d", time.Now().UnixNano())
	_, err = conn.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE %s (id integer PRIMARY KEY, line_id text NOT NULL, oee_score double precision)", table))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})

	_, err = conn.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s SELECT g, 'LINE-' || (g %% 3), g / 100.0 FROM generate_series(1, %d) AS g", table, n))
	require.NoError(t, err)
	return table
}

func TestPostgres_LimitStopsReading(t *testing.T) {
	p, _ := openTestPostgres(t, Options{})

	res, err := p.Execute(context.Background(), stmt("SELECT g FROM generate_series(1, 50) AS g"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, res.Columns)
	require.Equal(t, 10, res.RowCount())
	assert.Equal(t, int64(1), res.Rows[0][0])
	assert.Equal(t, int64(10), res.Rows[9][0])
}

func TestPostgres_ColumnOrder(t *testing.T) {
	p, dsn := openTestPostgres(t, Options{})
	table := seedPostgresTable(t, dsn, 3)

	res, err := p.Execute(context.Background(),
		stmt("SELECT oee_score, line_id, id FROM "+table+" ORDER BY id"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"oee_score", "line_id", "id"}, res.Columns)
	require.Equal(t, 3, res.RowCount())
	assert.Equal(t, "LINE-1", res.Rows[0][1])
	assert.Equal(t, int64(1), res.Rows[0][2])
}

func TestPostgres_EmptyResultHasColumns(t *testing.T) {
	p, _ := openTestPostgres(t, Options{})

	res, err := p.Execute(context.Background(), stmt("SELECT 1 AS a, 'x' AS b WHERE false"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Columns)
	assert.Equal(t, 0, res.RowCount())
}

func TestPostgres_ReadOnlyTransactionRefusesWrites(t *testing.T) {
	p, dsn := openTestPostgres(t, Options{})
	table := seedPostgresTable(t, dsn, 5)

	// The validator never lets this through; the transaction must refuse it
	// anyway.
	_, err := p.Execute(context.Background(), stmt("DELETE FROM "+table), 10)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Message, "SQLSTATE 25006")
	assert.False(t, ee.Timeout)

	res, err := p.Execute(context.Background(), stmt("SELECT COUNT(*) AS n FROM "+table), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Rows[0][0])
}

func TestPostgres_EngineError(t *testing.T) {
	p, _ := openTestPostgres(t, Options{})

	_, err := p.Execute(context.Background(), stmt("SELECT * FROM querygate_missing_table"), 10)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Message, "SQLSTATE 42P01")
	assert.Contains(t, ee.RawEngineText, "querygate_missing_table")
	assert.False(t, ee.Timeout)
}

func TestPostgres_Timeout(t *testing.T) {
	p, _ := openTestPostgres(t, Options{QueryTimeout: 100 * time.Millisecond})

	_, err := p.Execute(context.Background(), stmt("SELECT pg_sleep(5)"), 10)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Timeout)

	require.NoError(t, p.Ping(context.Background()), "the pool survives a cancelled statement")
}

func TestPostgres_NonPositiveLimit(t *testing.T) {
	p, _ := openTestPostgres(t, Options{})
	_, err := p.Execute(context.Background(), stmt("SELECT 1"), 0)
	require.Error(t, err)
}
