package auditlog

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// idLayout is the time part of an entry id.
const idLayout = "20060102T150405.000000Z"

// Entry is one logged invocation. Entries are immutable once appended.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Endpoint     string    `json:"endpoint"`
	Intent       *string   `json:"intent"`
	RequestBody  string    `json:"request_body"`
	Response     string    `json:"response"`
	ResponseSize int       `json:"response_size"`
	Truncated    bool      `json:"truncated"`
	StatusCode   int       `json:"status_code"`
}

// IDGenerator produces entry ids for a given instant.
type IDGenerator interface {
	NewID(t time.Time) string
}

// RandomIDs generates "<UTC time>-<8 hex>" ids. The suffix comes from a
// random UUID.
//
// Thread-safety: RandomIDs is stateless and safe for concurrent use.
type RandomIDs struct{}

// NewID implements IDGenerator.
func (RandomIDs) NewID(t time.Time) string {
	u := uuid.New()
	return t.UTC().Format(idLayout) + "-" + hex.EncodeToString(u[:4])
}
