package testutil

import (
	"fmt"
	"sync"
	"time"
)

// SequenceIDs generates log entry ids with a counter in place of the random
// suffix, so golden output and assertions stay stable across runs.
//
// Thread-safety: SequenceIDs is safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu sync.Mutex
	n  int
}

// NewID returns "<UTC timestamp>-<8 digit counter>", starting at 1.
func (g *SequenceIDs) NewID(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%08d", t.UTC().Format("20060102T150405.000000Z"), g.n)
}
