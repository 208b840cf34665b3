// Package frame serializes gateway payloads and applies the display
// truncation policy.
//
// The full serialization is what the audit log persists. The display copy is
// either identical to it or a byte-bounded preview followed by a marker.
package frame

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/roach88/querygate/internal/executor"
)

// Default thresholds in bytes.
const (
	DefaultDisplayThreshold = 5000
	DefaultPreviewBytes     = 1000
)

// Error kinds carried in the "error" field of a failure payload.
const (
	KindMalformed  = "malformed_request"
	KindValidation = "validation_error"
	KindExecution  = "execution_error"
	KindTimeout    = "timeout"
	KindThrottled  = "rate_limited"
	KindInternal   = "internal_error"
)

// Payload is either a Success or a Failure.
type Payload interface {
	marshal() ([]byte, error)
}

// Success is a query that ran.
type Success struct {
	Query  string
	Result *executor.QueryResult
}

func (s Success) marshal() ([]byte, error) {
	res := s.Result
	if res == nil {
		res = &executor.QueryResult{Columns: []string{}, Rows: [][]any{}}
	}
	return MarshalResult(s.Query, res)
}

// Failure is a structured error body.
type Failure struct {
	Kind    string
	Reason  string
	Message string
	Detail  string
}

func (f Failure) marshal() ([]byte, error) {
	return MarshalFailure(f)
}

// Framed is the outcome of framing one payload.
type Framed struct {
	// Full is the untruncated serialization. It is always what gets logged.
	Full string

	// Display is what the caller sees: Full, or a preview plus marker.
	Display string

	Truncated bool

	// Size is len(Full) in bytes.
	Size int
}

// Framer applies the truncation policy.
type Framer struct {
	displayThreshold int
	previewBytes     int
}

// New returns a Framer. Non-positive values select the defaults.
func New(displayThreshold, previewBytes int) *Framer {
	if displayThreshold <= 0 {
		displayThreshold = DefaultDisplayThreshold
	}
	if previewBytes <= 0 {
		previewBytes = DefaultPreviewBytes
	}
	return &Framer{displayThreshold: displayThreshold, previewBytes: previewBytes}
}

// Frame serializes p and applies the policy.
func (f *Framer) Frame(p Payload) (*Framed, error) {
	full, err := p.marshal()
	if err != nil {
		return nil, err
	}
	return f.FrameBytes(full), nil
}

// FrameBytes applies the policy to an already serialized payload.
func (f *Framer) FrameBytes(full []byte) *Framed {
	out := &Framed{Full: string(full), Size: len(full)}
	if out.Size <= f.displayThreshold {
		out.Display = out.Full
		return out
	}

	cut := previewCut(full, f.previewBytes)
	marker := fmt.Sprintf("\n... [truncated: showing %d of %d bytes]", cut, out.Size)
	if n, ok := countElements(full); ok {
		marker = fmt.Sprintf("\n... [truncated: showing %d of %d bytes, %d rows total]", cut, out.Size, n)
	}

	out.Display = string(full[:cut]) + marker
	out.Truncated = true
	return out
}

// previewCut returns the largest length ≤ limit that does not split a UTF-8
// sequence.
func previewCut(b []byte, limit int) int {
	if limit >= len(b) {
		return len(b)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return cut
}

// countElements recovers the element count of a JSON array or of the rows
// array of a JSON object.
func countElements(full []byte) (int, bool) {
	var v any
	if err := json.Unmarshal(full, &v); err != nil {
		return 0, false
	}
	switch val := v.(type) {
	case []any:
		return len(val), true
	case map[string]any:
		if rows, ok := val["rows"].([]any); ok {
			return len(rows), true
		}
	}
	return 0, false
}
