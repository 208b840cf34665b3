package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const mesSchema = `
CREATE TABLE mes_data (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	line_id TEXT NOT NULL,
	equipment_id TEXT NOT NULL,
	work_order TEXT,
	product_type TEXT,
	units_produced INTEGER,
	units_scrapped INTEGER,
	downtime_minutes REAL,
	oee_score REAL,
	operator_notes TEXT
)`

// NewMESDatabase creates a SQLite file in a temp dir holding a mes_data
// table with rows synthetic production records, and returns its path.
//
// Rows cycle through three lines and two equipment ids; operator_notes is
// NULL on every third row.
func NewMESDatabase(t *testing.T, rows int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mes.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(mesSchema)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	stmt, err := tx.Prepare(`INSERT INTO mes_data
		(id, timestamp, line_id, equipment_id, work_order, product_type,
		 units_produced, units_scrapped, downtime_minutes, oee_score, operator_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	require.NoError(t, err)

	for i := 1; i <= rows; i++ {
		var notes any
		if i%3 != 0 {
			notes = fmt.Sprintf("shift note %d", i)
		}
		_, err = stmt.Exec(
			i,
			Epoch.Add(timeStep(i)).Format("2006-01-02T15:04:05Z"),
			fmt.Sprintf("LINE-%d", i%3+1),
			fmt.Sprintf("EQ-%d", i%2+1),
			fmt.Sprintf("WO-%04d", i),
			"widget",
			100+i,
			i%7,
			float64(i%5)*1.5,
			0.5+float64(i%50)/100,
			notes,
		)
		require.NoError(t, err)
	}
	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Commit())

	return path
}

func timeStep(i int) time.Duration {
	return time.Duration(i) * 15 * time.Minute
}
