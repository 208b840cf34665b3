package auditlog

import (
	"errors"
	"fmt"
)

// ErrEntryNotFound is returned by Get when no entry has the requested id.
var ErrEntryNotFound = errors.New("log entry not found")

// WriteError means an append or repair could not be made durable. The log
// file is left as it was before the operation.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write audit log %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CorruptError means the log file exists but is not a JSON array of entries.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("audit log %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// IsCorruptError reports whether err is (or wraps) a *CorruptError.
func IsCorruptError(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}
