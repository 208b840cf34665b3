package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// DefaultLockTimeout bounds how long an append waits for the file lock.
const DefaultLockTimeout = 5 * time.Second

const lockRetryDelay = 10 * time.Millisecond

// Options configures a Store.
type Options struct {
	// LockTimeout bounds lock acquisition. Zero selects DefaultLockTimeout.
	LockTimeout time.Duration

	// Now supplies backup timestamps. Nil selects time.Now.
	Now func() time.Time

	Logger zerolog.Logger
}

// Store reads and appends to one log file.
//
// Thread-safety: all methods are safe for concurrent use. Appends and
// repairs are serialized; reads never block on writers.
type Store struct {
	path        string
	fileLock    *flock.Flock
	mu          sync.Mutex
	lockTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	// beforeRename runs after the temp file is durable and verified but
	// before it replaces the log. Tests use it to simulate a crash.
	beforeRename func(tmp string) error
}

// AppendResult describes a successful append.
type AppendResult struct {
	// Count is the number of entries in the log after the append.
	Count int

	// RecoveredBackup is set when the existing file was unreadable and was
	// preserved under this path before the log restarted.
	RecoveredBackup string
}

// NewStore returns a Store for the log at path. The file is created on first
// append.
func NewStore(path string, opts Options) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		path:        path,
		fileLock:    flock.New(path + ".lock"),
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
		logger:      opts.Logger.With().Str("component", "auditlog").Logger(),
	}
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.path
}

// Append adds e to the end of the log.
//
// Failures are *WriteError and leave the log unchanged. A corrupt existing
// file never blocks an append: its bytes are copied to a backup first and
// reported in the result.
func (s *Store) Append(ctx context.Context, e Entry) (*AppendResult, error) {
	entryJSON, err := marshalEntry(e)
	if err != nil {
		return nil, &WriteError{Path: s.path, Op: "encode entry", Err: err}
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &AppendResult{}

	data, err := os.ReadFile(s.path)
	var elems []json.RawMessage
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, &WriteError{Path: s.path, Op: "read", Err: err}
	default:
		elems, err = parseArray(data)
		if err != nil {
			backup, berr := s.writeBackup("corrupted", data)
			if berr != nil {
				return nil, &WriteError{Path: s.path, Op: "back up corrupt log", Err: berr}
			}
			s.logger.Warn().Err(err).Str("backup", backup).Msg("corrupt audit log preserved; starting a new log")
			result.RecoveredBackup = backup
			elems = nil
		}
	}

	elems = append(elems, entryJSON)
	if err := s.replace(elems); err != nil {
		return nil, err
	}

	result.Count = len(elems)
	s.logger.Debug().Str("id", e.ID).Int("count", result.Count).Msg("entry appended")
	return result, nil
}

// ReadAll returns every entry in order. A missing file is an empty log.
func (s *Store) ReadAll(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit log %s: %w", s.path, err)
	}

	elems, err := parseArray(data)
	if err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}

	entries := make([]Entry, len(elems))
	for i, raw := range elems {
		if err := json.Unmarshal(raw, &entries[i]); err != nil {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("element %d: %w", i, err)}
		}
	}
	return entries, nil
}

// Get returns the entry with the given id, or ErrEntryNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	entries, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
}

// lock takes the in-process mutex and then the file lock.
func (s *Store) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, &WriteError{Path: s.path, Op: "create directory", Err: err}
	}

	s.mu.Lock()

	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	ok, err := s.fileLock.TryLockContext(lctx, lockRetryDelay)
	if err != nil || !ok {
		s.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, &WriteError{Path: s.path, Op: "acquire lock", Err: err}
	}

	return func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("release audit log lock")
		}
		s.mu.Unlock()
	}, nil
}

// replace atomically swaps the log for elems. The caller holds the lock.
func (s *Store) replace(elems []json.RawMessage) error {
	data, err := encodeArray(elems)
	if err != nil {
		return &WriteError{Path: s.path, Op: "encode log", Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &WriteError{Path: s.path, Op: "create temp file", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return &WriteError{Path: s.path, Op: "chmod temp file", Err: err}
	}
	if err := writeAndSync(tmp, data); err != nil {
		return &WriteError{Path: s.path, Op: "write temp file", Err: err}
	}

	// Re-read what reached the disk before it becomes the log.
	written, err := os.ReadFile(tmpName)
	if err != nil {
		return &WriteError{Path: s.path, Op: "verify temp file", Err: err}
	}
	check, err := parseArray(written)
	if err != nil {
		return &WriteError{Path: s.path, Op: "verify temp file", Err: err}
	}
	if len(check) != len(elems) {
		return &WriteError{Path: s.path, Op: "verify temp file",
			Err: fmt.Errorf("expected %d entries, found %d", len(elems), len(check))}
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpName); err != nil {
			return &WriteError{Path: s.path, Op: "rename", Err: err}
		}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return &WriteError{Path: s.path, Op: "rename", Err: err}
	}
	committed = true

	if err := syncDir(dir); err != nil {
		return &WriteError{Path: s.path, Op: "sync directory", Err: err}
	}
	return nil
}

// writeBackup copies data byte for byte to "<log>.<kind>-<UTC timestamp>".
func (s *Store) writeBackup(kind string, data []byte) (string, error) {
	base := fmt.Sprintf("%s.%s-%s", s.path, kind, s.now().UTC().Format(idLayout))
	name := base
	for i := 1; ; i++ {
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			name = fmt.Sprintf("%s.%d", base, i)
			continue
		}
		if err != nil {
			return "", err
		}
		if err := writeAndSync(f, data); err != nil {
			os.Remove(name)
			return "", err
		}
		return name, nil
	}
}

// parseArray splits a JSON array into its raw elements. Anything that is not
// an array, including null, is an error.
func parseArray(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("file is empty")
	}
	if trimmed[0] != '[' {
		return nil, errors.New("top-level value is not an array")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, err
	}
	return elems, nil
}

// encodeArray writes elems as a two-space indented array.
func encodeArray(elems []json.RawMessage) ([]byte, error) {
	if elems == nil {
		elems = []json.RawMessage{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(elems); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalEntry(e Entry) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
