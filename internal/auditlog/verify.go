package auditlog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
	"unicode/utf8"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/querygate/internal/intent"
)

//go:embed schema.cue
var entrySchema string

// Problem is one integrity violation. Index is -1 for file-level problems.
type Problem struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	switch {
	case p.Index < 0:
		return p.Message
	case p.ID != "":
		return fmt.Sprintf("entry %d (%s): %s", p.Index, p.ID, p.Message)
	default:
		return fmt.Sprintf("entry %d: %s", p.Index, p.Message)
	}
}

// VerifyReport summarizes an integrity check.
type VerifyReport struct {
	Path     string    `json:"path"`
	Exists   bool      `json:"exists"`
	Entries  int       `json:"entries"`
	Problems []Problem `json:"problems"`
}

// Valid reports whether the log exists and has no problems.
func (r *VerifyReport) Valid() bool {
	return r.Exists && len(r.Problems) == 0
}

// Verify checks that the log parses as an array and that every element has
// the entry shape, a short intent, an RFC 3339 timestamp and a unique id.
//
// Problems are reported, not returned as errors; err is only set when the
// file cannot be read at all.
func (s *Store) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{Path: s.path, Problems: []Problem{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		report.Problems = append(report.Problems, Problem{Index: -1, Message: "log file does not exist"})
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify audit log %s: %w", s.path, err)
	}
	report.Exists = true

	elems, err := parseArray(data)
	if err != nil {
		report.Problems = append(report.Problems, Problem{Index: -1, Message: fmt.Sprintf("not a JSON array: %v", err)})
		return report, nil
	}
	report.Entries = len(elems)

	cctx := cuecontext.New()
	schema := cctx.CompileString(entrySchema).LookupPath(cue.ParsePath("#Entry"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile entry schema: %w", err)
	}

	seen := make(map[string]int, len(elems))
	for i, raw := range elems {
		var fields struct {
			ID        string  `json:"id"`
			Timestamp string  `json:"timestamp"`
			Intent    *string `json:"intent"`
		}
		// Shape problems are reported by the schema below.
		_ = json.Unmarshal(raw, &fields)

		add := func(msg string) {
			report.Problems = append(report.Problems, Problem{Index: i, ID: fields.ID, Message: msg})
		}

		v := cctx.CompileBytes(raw)
		if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
			for _, e := range cueerrors.Errors(err) {
				add(e.Error())
			}
			continue
		}

		if fields.Intent != nil && utf8.RuneCountInString(*fields.Intent) > intent.MaxLen {
			add(fmt.Sprintf("intent is %d characters; the limit is %d", utf8.RuneCountInString(*fields.Intent), intent.MaxLen))
		}
		if _, err := time.Parse(time.RFC3339Nano, fields.Timestamp); err != nil {
			add(fmt.Sprintf("timestamp %q is not RFC 3339", fields.Timestamp))
		}
		if first, dup := seen[fields.ID]; dup {
			add(fmt.Sprintf("duplicate id (first seen at entry %d)", first))
		} else {
			seen[fields.ID] = i
		}
	}
	return report, nil
}
