// Package executor runs one validated read-only statement against the
// relational store and returns at most a bounded number of rows.
//
// Two backends exist:
//   - SQLite (default): opened with mode=ro and _query_only=1, so every
//     pooled connection refuses writes regardless of the statement text.
//   - PostgreSQL: every statement runs in a READ ONLY transaction that is
//     always rolled back.
//
// The row limit is enforced by reading at most limit rows from the cursor;
// statement text is never rewritten. The executor never retries.
package executor
