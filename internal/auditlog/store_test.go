package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querygate/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query_logs.json")
	return NewStore(path, Options{
		Now:    testutil.NewFixedClock(time.Time{}, time.Second).Now,
		Logger: zerolog.Nop(),
	})
}

func sampleEntry(i int) Entry {
	ts := testutil.Epoch.Add(time.Duration(i) * time.Second)
	return Entry{
		ID:           fmt.Sprintf("%s-%08x", ts.Format(idLayout), i),
		Timestamp:    ts,
		Method:       "POST",
		Endpoint:     "/query",
		RequestBody:  `{"sql":"SELECT 1"}`,
		Response:     `{"query":"SELECT 1","row_count":1,"columns":["1"],"rows":[{"1":1}]}`,
		ResponseSize: 66,
		StatusCode:   200,
	}
}

func TestAppend_CreatesLog(t *testing.T) {
	s := newTestStore(t)

	res, err := s.Append(context.Background(), sampleEntry(1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Empty(t, res.RecoveredBackup)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Regexp(t, `^\[\n  \{`, string(data))

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Intent)
	assert.True(t, sampleEntry(1).Timestamp.Equal(entries[0].Timestamp))
}

func TestAppend_SequentialOrder(t *testing.T) {
	s := newTestStore(t)

	const n = 25
	for i := 0; i < n; i++ {
		_, err := s.Append(context.Background(), sampleEntry(i))
		require.NoError(t, err)
	}

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, sampleEntry(i).ID, e.ID)
	}
}

func TestAppend_NoHTMLEscaping(t *testing.T) {
	s := newTestStore(t)
	e := sampleEntry(1)
	e.RequestBody = `{"sql":"SELECT 1 WHERE 2 > 1 AND 'a' <> 'b'"}`

	_, err := s.Append(context.Background(), e)
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `2 > 1 AND 'a' <> 'b'`)
}

func TestAppend_CrashBeforeRenameLeavesLogUntouched(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Append(context.Background(), sampleEntry(i))
		require.NoError(t, err)
	}
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	s.beforeRename = func(tmp string) error {
		assert.FileExists(t, tmp)
		return errors.New("simulated crash")
	}
	_, err = s.Append(context.Background(), sampleEntry(3))
	var we *WriteError
	require.ErrorAs(t, err, &we)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	leftovers, err := filepath.Glob(s.Path() + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAppend_CorruptLogIsBackedUp(t *testing.T) {
	s := newTestStore(t)
	garbage := []byte("[{\"id\": \"half written")
	require.NoError(t, os.WriteFile(s.Path(), garbage, 0o644))

	res, err := s.Append(context.Background(), sampleEntry(1))
	require.NoError(t, err)
	require.NotEmpty(t, res.RecoveredBackup)
	assert.Equal(t, 1, res.Count)

	backup, err := os.ReadFile(res.RecoveredBackup)
	require.NoError(t, err)
	assert.Equal(t, garbage, backup)
	assert.Contains(t, res.RecoveredBackup, ".corrupted-")

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppend_PreservesExistingElements(t *testing.T) {
	s := newTestStore(t)
	existing := `[{"id":"legacy","timestamp":"2024-01-01T00:00:00Z","method":"GET","endpoint":"/data","intent":"old","request_body":"","response":"[]","response_size":2,"truncated":false,"status_code":200,"client":"curl"}]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(existing), 0o644))

	_, err := s.Append(context.Background(), sampleEntry(1))
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)
	assert.Equal(t, "curl", raw[0]["client"])
	assert.Equal(t, "legacy", raw[0]["id"])
}

func TestAppend_ConcurrentGoroutinesLoseNothing(t *testing.T) {
	s := newTestStore(t)
	const workers = 10
	const perWorker = 8

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.Append(context.Background(), sampleEntry(w*perWorker+j))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, workers*perWorker)

	ids := make(map[string]bool)
	for _, e := range entries {
		ids[e.ID] = true
	}
	assert.Len(t, ids, workers*perWorker)
}

func TestAppend_SeparateStoresShareFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query_logs.json")
	a := NewStore(path, Options{Logger: zerolog.Nop()})
	b := NewStore(path, Options{Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	for i, s := range []*Store{a, b} {
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			for j := 0; j < 15; j++ {
				_, err := s.Append(context.Background(), sampleEntry(i*100+j))
				assert.NoError(t, err)
			}
		}(i, s)
	}
	wg.Wait()

	entries, err := a.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 30)
}

func TestAppend_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query_logs.json")
	holder := flock.New(path + ".lock")
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	s := NewStore(path, Options{LockTimeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	_, err := s.Append(context.Background(), sampleEntry(1))
	require.Error(t, err)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "acquire lock", we.Op)
	assert.NoFileExists(t, path)
}

func TestReadAll_MissingIsEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadAll_Corrupt(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":   "not json",
		"object":    `{"id":"x"}`,
		"null":      "null",
		"empty":     "",
		"bad shape": `[{"status_code":"two hundred"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))

			_, err := s.ReadAll(context.Background())
			require.Error(t, err)
			assert.True(t, IsCorruptError(err))
		})
	}
}

func TestGet(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Append(context.Background(), sampleEntry(i))
		require.NoError(t, err)
	}

	e, err := s.Get(context.Background(), sampleEntry(1).ID)
	require.NoError(t, err)
	assert.Equal(t, sampleEntry(1).ID, e.ID)

	_, err = s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRandomIDs(t *testing.T) {
	var g RandomIDs
	pattern := regexp.MustCompile(`^\d{8}T\d{6}\.\d{6}Z-[0-9a-f]{8}$`)

	a := g.NewID(testutil.Epoch)
	b := g.NewID(testutil.Epoch)
	assert.Regexp(t, pattern, a)
	assert.Regexp(t, pattern, b)
	assert.NotEqual(t, a, b)
	assert.True(t, len(a) > 0 && a[:23] == "20250115T083000.000000Z")
}
