package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querygate/internal/auditlog"
	"github.com/roach88/querygate/internal/executor"
	"github.com/roach88/querygate/internal/frame"
	"github.com/roach88/querygate/internal/testutil"
	"github.com/roach88/querygate/internal/validate"
)

// fakeExecutor records calls and returns a canned result.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     int
	lastLimit int
	result    *executor.QueryResult
	err       error
}

func (f *fakeExecutor) Execute(ctx context.Context, stmt validate.Statement, limit int) (*executor.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &executor.QueryResult{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}}, nil
}

func (f *fakeExecutor) Ping(ctx context.Context) error { return nil }
func (f *fakeExecutor) Close() error                   { return nil }

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingLog rejects every append.
type failingLog struct{}

func (failingLog) Append(ctx context.Context, e auditlog.Entry) (*auditlog.AppendResult, error) {
	return nil, &auditlog.WriteError{Path: "query_logs.json", Op: "rename", Err: errors.New("disk full")}
}

type fixture struct {
	svc   *Service
	exec  *fakeExecutor
	store *auditlog.Store
}

func newFixture(t *testing.T, exec executor.Executor, framer *frame.Framer) *fixture {
	t.Helper()
	store := auditlog.NewStore(filepath.Join(t.TempDir(), "query_logs.json"), auditlog.Options{Logger: zerolog.Nop()})
	f := &fixture{store: store}
	if exec == nil {
		f.exec = &fakeExecutor{}
		exec = f.exec
	}
	f.svc = New(Deps{
		Executor: exec,
		Framer:   framer,
		Log:      store,
		IDs:      &testutil.SequenceIDs{},
		Now:      testutil.NewFixedClock(time.Time{}, time.Millisecond).Now,
		Logger:   zerolog.Nop(),
	})
	return f
}

func post(body string) Invocation {
	return Invocation{Method: http.MethodPost, Endpoint: "/query", Body: []byte(body)}
}

func (f *fixture) entries(t *testing.T) []auditlog.Entry {
	t.Helper()
	entries, err := f.store.ReadAll(context.Background())
	require.NoError(t, err)
	return entries
}

func TestHandle_SelectOneEndToEnd(t *testing.T) {
	path := testutil.NewMESDatabase(t, 3)
	exec, err := executor.OpenSQLite(path, executor.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer exec.Close()

	f := newFixture(t, exec, nil)
	body := `{"sql": "SELECT 1"}`
	out := f.svc.Handle(context.Background(), post(body))

	require.Nil(t, out.Err)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, []State{StateReceived, StateValidated, StateExecuted, StateFramed, StateLogged, StateResponded}, out.States)

	var payload struct {
		RowCount int              `json:"row_count"`
		Columns  []string         `json:"columns"`
		Rows     []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Framed.Display), &payload))
	assert.Equal(t, 1, payload.RowCount)
	assert.Len(t, payload.Columns, 1)
	require.Len(t, payload.Rows, 1)
	assert.Equal(t, float64(1), payload.Rows[0]["1"])

	entries := f.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, out.LogID, e.ID)
	assert.Nil(t, e.Intent)
	assert.Equal(t, 200, e.StatusCode)
	assert.False(t, e.Truncated)
	assert.Equal(t, body, e.RequestBody)
	assert.Equal(t, out.Framed.Full, e.Response)
	assert.Equal(t, len(e.Response), e.ResponseSize)
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/query", e.Endpoint)
}

func TestHandle_DeleteIsRejectedAndLogged(t *testing.T) {
	f := newFixture(t, nil, nil)
	body := `{"sql": "DELETE FROM t"}`
	out := f.svc.Handle(context.Background(), post(body))

	assert.Equal(t, http.StatusBadRequest, out.Status)
	require.NotNil(t, out.Err)
	assert.Equal(t, ErrCodeValidation, out.Err.Code)
	assert.Equal(t, string(validate.ReasonNotSelect), out.Err.Reason)
	assert.True(t, IsRejection(out.Err))
	assert.Equal(t, 0, f.exec.Calls())
	assert.Equal(t, []State{StateReceived, StateRejected, StateFramed, StateLogged, StateResponded}, out.States)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, 400, entries[0].StatusCode)
	assert.Equal(t, body, entries[0].RequestBody)
	assert.Contains(t, entries[0].Response, `"error":"validation_error"`)
	assert.Contains(t, entries[0].Response, `"reason":"not_select"`)
}

func TestHandle_RejectionsNeverExecute(t *testing.T) {
	for _, sql := range []string{
		"UPDATE t SET a = 1",
		"SELECT 1; DROP TABLE t",
		"SELECT * FROM t WHERE x = 1 OR 1=1; DELETE FROM t",
		"SELECT replace(a, 'x', 'y') FROM t",
		"   ",
	} {
		t.Run(sql, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			body, err := json.Marshal(map[string]string{"sql": sql})
			require.NoError(t, err)

			out := f.svc.Handle(context.Background(), post(string(body)))
			assert.Equal(t, http.StatusBadRequest, out.Status)
			assert.Equal(t, 0, f.exec.Calls())
			assert.Len(t, f.entries(t), 1)
		})
	}
}

func TestHandle_RefusedCallsAreLogged(t *testing.T) {
	tests := []struct {
		refusal Refusal
		status  int
		kind    string
	}{
		{RefusalBodyTooLarge, http.StatusRequestEntityTooLarge, frame.KindMalformed},
		{RefusalRateLimited, http.StatusTooManyRequests, frame.KindThrottled},
		{RefusalUnreadable, http.StatusBadRequest, frame.KindMalformed},
	}

	for _, tt := range tests {
		t.Run(string(tt.refusal), func(t *testing.T) {
			f := newFixture(t, nil, nil)
			inv := post(`{"sql": "SELECT 1"`)
			inv.Refused = tt.refusal
			inv.IntentHeader = "why"

			out := f.svc.Handle(context.Background(), inv)
			assert.Equal(t, tt.status, out.Status)
			require.NotNil(t, out.Err)
			assert.Equal(t, string(tt.refusal), out.Err.Reason)
			assert.True(t, IsRejection(out.Err))
			assert.Equal(t, 0, f.exec.Calls())
			assert.NotEmpty(t, out.LogID)

			entries := f.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.status, entries[0].StatusCode)
			assert.Equal(t, `{"sql": "SELECT 1"`, entries[0].RequestBody)
			require.NotNil(t, entries[0].Intent)
			assert.Equal(t, "why", *entries[0].Intent)

			var body map[string]any
			require.NoError(t, json.Unmarshal([]byte(entries[0].Response), &body))
			assert.Equal(t, tt.kind, body["error"])
		})
	}
}

func TestHandle_MalformedRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"empty body", "", ReasonInvalidJSON},
		{"not json", "sql=SELECT 1", ReasonInvalidJSON},
		{"shell-mangled quotes", "{sql: SELECT 1}", ReasonInvalidJSON},
		{"missing sql", `{"limit": 5}`, ReasonMissingSQL},
		{"zero limit", `{"sql": "SELECT 1", "limit": 0}`, ReasonInvalidLimit},
		{"negative limit", `{"sql": "SELECT 1", "limit": -5}`, ReasonInvalidLimit},
		{"fractional limit", `{"sql": "SELECT 1", "limit": 1.5}`, ReasonInvalidJSON},
		{"sql not a string", `{"sql": 5}`, ReasonInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			out := f.svc.Handle(context.Background(), post(tt.body))

			assert.Equal(t, http.StatusBadRequest, out.Status)
			require.NotNil(t, out.Err)
			assert.Equal(t, ErrCodeMalformed, out.Err.Code)
			assert.Equal(t, tt.reason, out.Err.Reason)
			assert.Equal(t, 0, f.exec.Calls())

			entries := f.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.body, entries[0].RequestBody)
			assert.Equal(t, 400, entries[0].StatusCode)
		})
	}
}

func TestHandle_Limits(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		warning bool
	}{
		{"default", `{"sql": "SELECT 1"}`, DefaultLimit, false},
		{"null", `{"sql": "SELECT 1", "limit": null}`, DefaultLimit, false},
		{"explicit", `{"sql": "SELECT 1", "limit": 5}`, 5, false},
		{"at max", `{"sql": "SELECT 1", "limit": 10000}`, MaxLimit, false},
		{"over max", `{"sql": "SELECT 1", "limit": 20000}`, MaxLimit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			out := f.svc.Handle(context.Background(), post(tt.body))

			assert.Equal(t, http.StatusOK, out.Status)
			assert.Equal(t, tt.want, f.exec.lastLimit)
			if tt.warning {
				require.Len(t, out.Warnings, 1)
				assert.Contains(t, out.Warnings[0], "clamped")
			} else {
				assert.Empty(t, out.Warnings)
			}
		})
	}
}

func TestHandle_RowCountHonoursLimit(t *testing.T) {
	path := testutil.NewMESDatabase(t, 40)
	exec, err := executor.OpenSQLite(path, executor.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer exec.Close()

	f := newFixture(t, exec, nil)
	out := f.svc.Handle(context.Background(), post(`{"sql": "SELECT id FROM mes_data", "limit": 15}`))
	require.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, 15, out.RowCount)

	out = f.svc.Handle(context.Background(), post(`{"sql": "SELECT id FROM mes_data", "limit": 100}`))
	assert.Equal(t, 40, out.RowCount)
}

func TestHandle_Intent(t *testing.T) {
	exactly := strings.Repeat("a", 140)
	tooLong := strings.Repeat("b", 141)
	padded := " " + strings.Repeat("c", 139)

	tests := []struct {
		name       string
		body       string
		header     string
		want       *string
		wantWarned bool
	}{
		{"absent", `{"sql": "SELECT 1"}`, "", nil, false},
		{"140 kept", fmt.Sprintf(`{"sql": "SELECT 1", "intent": %q}`, exactly), "", &exactly, false},
		{"140 with leading space kept", fmt.Sprintf(`{"sql": "SELECT 1", "intent": %q}`, padded), "", &padded, false},
		{"141 clamped", fmt.Sprintf(`{"sql": "SELECT 1", "intent": %q}`, tooLong), "", ptr(tooLong[:140]), true},
		{"header", `{"sql": "SELECT 1"}`, "from header", ptr("from header"), false},
		{"body wins", `{"sql": "SELECT 1", "intent": "from body"}`, "from header", ptr("from body"), false},
		{"blank is null", `{"sql": "SELECT 1", "intent": "   "}`, "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			inv := post(tt.body)
			inv.IntentHeader = tt.header
			out := f.svc.Handle(context.Background(), inv)

			assert.Equal(t, http.StatusOK, out.Status)
			if tt.wantWarned {
				require.Len(t, out.Warnings, 1)
				assert.Equal(t, "intent is 141 characters; clamped to 140", out.Warnings[0])
			} else {
				assert.Empty(t, out.Warnings)
			}

			entries := f.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.want, entries[0].Intent)
		})
	}
}

func TestHandle_IntentOnRejectedRequest(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := f.svc.Handle(context.Background(), post(`{"sql": "DROP TABLE t", "intent": "cleanup"}`))
	assert.Equal(t, http.StatusBadRequest, out.Status)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Intent)
	assert.Equal(t, "cleanup", *entries[0].Intent)
}

func TestHandle_ExecutionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"engine", &executor.ExecutionError{Message: "sqlite rejected the query (SQL logic error)", RawEngineText: "no such table: t"}, http.StatusUnprocessableEntity, ErrCodeExecution},
		{"timeout", &executor.ExecutionError{Message: "query exceeded the 1s time limit", Timeout: true}, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"other", errors.New("connection reset"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{err: tt.err}
			f := newFixture(t, exec, nil)
			out := f.svc.Handle(context.Background(), post(`{"sql": "SELECT * FROM t"}`))

			assert.Equal(t, tt.status, out.Status)
			require.NotNil(t, out.Err)
			assert.Equal(t, tt.code, out.Err.Code)
			assert.Contains(t, out.States, StateExecutionFailed)

			entries := f.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.status, entries[0].StatusCode)
		})
	}
}

func TestHandle_ExecutionErrorCarriesEngineText(t *testing.T) {
	path := testutil.NewMESDatabase(t, 1)
	exec, err := executor.OpenSQLite(path, executor.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer exec.Close()

	f := newFixture(t, exec, nil)
	out := f.svc.Handle(context.Background(), post(`{"sql": "SELECT nope FROM mes_data"}`))

	assert.Equal(t, http.StatusUnprocessableEntity, out.Status)
	assert.Contains(t, out.Err.Detail, "no such column")
	assert.Contains(t, out.Framed.Full, `"detail":"no such column: nope"`)
}

func TestHandle_LogFailureBecomesWarning(t *testing.T) {
	exec := &fakeExecutor{}
	svc := New(Deps{Executor: exec, Log: failingLog{}, Logger: zerolog.Nop()})

	out := svc.Handle(context.Background(), post(`{"sql": "SELECT 1"}`))
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Nil(t, out.Err)
	assert.Empty(t, out.LogID)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "audit log write failed")
	assert.Contains(t, out.Framed.Full, `"row_count":1`)
	assert.NotContains(t, out.States, StateLogged)
	assert.Contains(t, out.States, StateResponded)
}

func TestHandle_CorruptLogIsReportedAsWarning(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("{broken"), 0o644))

	out := f.svc.Handle(context.Background(), post(`{"sql": "SELECT 1"}`))
	assert.Equal(t, http.StatusOK, out.Status)
	assert.NotEmpty(t, out.LogID)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "previous contents preserved")
}

func TestHandle_LargeResultIsTruncatedForDisplayOnly(t *testing.T) {
	path := testutil.NewMESDatabase(t, 50)
	exec, err := executor.OpenSQLite(path, executor.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer exec.Close()

	f := newFixture(t, exec, frame.New(500, 100))
	out := f.svc.Handle(context.Background(), post(`{"sql": "SELECT * FROM mes_data"}`))

	require.Equal(t, http.StatusOK, out.Status)
	assert.True(t, out.Framed.Truncated)
	assert.Contains(t, out.Framed.Display, "50 rows total]")

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Truncated)
	assert.Equal(t, out.Framed.Full, entries[0].Response)
	assert.Equal(t, out.Framed.Size, entries[0].ResponseSize)
}

func TestHandle_ConcurrentInvocationsEachLogOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	const n = 30

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			out := f.svc.Handle(context.Background(), post(`{"sql": "SELECT 1"}`))
			assert.NotEmpty(t, out.LogID)
		}()
	}
	wg.Wait()

	assert.Len(t, f.entries(t), n)
	assert.Equal(t, n, f.exec.Calls())
}

func ptr(s string) *string { return &s }
