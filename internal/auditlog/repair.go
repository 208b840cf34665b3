package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
)

// RepairAction names what Repair did.
type RepairAction string

const (
	RepairNone          RepairAction = "none"
	RepairCreated       RepairAction = "created"
	RepairWrapped       RepairAction = "wrapped"
	RepairReinitialized RepairAction = "reinitialized"
)

// RepairReport describes a completed repair.
type RepairReport struct {
	Path    string       `json:"path"`
	Action  RepairAction `json:"action"`
	Backup  string       `json:"backup,omitempty"`
	Entries int          `json:"entries"`
}

// Repair makes the log a valid array again. The original bytes are copied to
// a backup before anything is rewritten:
//
//   - missing file: create an empty array
//   - valid array: nothing to do
//   - valid JSON that is not an array: back up, then wrap it in an array
//   - unparsable: back up as corrupted, then start an empty array
func (s *Store) Repair(ctx context.Context) (*RepairReport, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := &RepairReport{Path: s.path}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.replace(nil); err != nil {
			return nil, err
		}
		report.Action = RepairCreated
		s.logger.Info().Str("path", s.path).Msg("created empty audit log")
		return report, nil
	}
	if err != nil {
		return nil, &WriteError{Path: s.path, Op: "read", Err: err}
	}

	if elems, err := parseArray(data); err == nil {
		report.Action = RepairNone
		report.Entries = len(elems)
		return report, nil
	}

	var elems []json.RawMessage
	if json.Valid(data) {
		report.Action = RepairWrapped
		report.Backup, err = s.writeBackup("backup", data)
		elems = []json.RawMessage{json.RawMessage(bytes.TrimSpace(data))}
	} else {
		report.Action = RepairReinitialized
		report.Backup, err = s.writeBackup("corrupted", data)
	}
	if err != nil {
		return nil, &WriteError{Path: s.path, Op: "back up log", Err: err}
	}

	if err := s.replace(elems); err != nil {
		return nil, err
	}
	report.Entries = len(elems)

	s.logger.Warn().
		Str("action", string(report.Action)).
		Str("backup", report.Backup).
		Msg("audit log repaired")
	return report, nil
}
