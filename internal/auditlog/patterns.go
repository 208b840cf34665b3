package auditlog

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PatternReport is the YAML document emitted by extract-patterns.
type PatternReport struct {
	Metadata PatternMetadata `yaml:"extraction_metadata"`
	Queries  []QueryPattern  `yaml:"successful_queries"`
}

// PatternMetadata describes an extraction run.
type PatternMetadata struct {
	TotalQueries int    `yaml:"total_queries"`
	Source       string `yaml:"source"`
	Purpose      string `yaml:"purpose"`
}

// QueryPattern is one successful query paired with the intent that
// motivated it.
type QueryPattern struct {
	ID        string `yaml:"id"`
	Timestamp string `yaml:"timestamp"`
	Intent    string `yaml:"intent"`
	SQL       string `yaml:"sql"`
	RowCount  int    `yaml:"row_count"`
}

// ExtractPatterns collects successful /query entries that carry an intent.
// The SQL comes from the request body, or from the response's "query"
// field when the body has none.
func ExtractPatterns(entries []Entry, source string) *PatternReport {
	report := &PatternReport{
		Metadata: PatternMetadata{
			Source:  filepath.Base(source),
			Purpose: "Pattern extraction for query intent learning",
		},
		Queries: []QueryPattern{},
	}

	for _, e := range entries {
		if e.StatusCode != http.StatusOK || e.Endpoint != "/query" || e.Intent == nil || *e.Intent == "" {
			continue
		}

		var req struct {
			SQL string `json:"sql"`
		}
		var resp struct {
			Query    string `json:"query"`
			RowCount int    `json:"row_count"`
		}
		_ = json.Unmarshal([]byte(e.RequestBody), &req)
		_ = json.Unmarshal([]byte(e.Response), &resp)

		sql := req.SQL
		if sql == "" {
			sql = resp.Query
		}
		if sql == "" {
			continue
		}

		report.Queries = append(report.Queries, QueryPattern{
			ID:        e.ID,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Intent:    *e.Intent,
			SQL:       sql,
			RowCount:  resp.RowCount,
		})
	}

	report.Metadata.TotalQueries = len(report.Queries)
	return report
}

// WriteYAML encodes the report with two-space indentation.
func (r *PatternReport) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}
	return enc.Close()
}
