// SPDX-License-Identifier: AGPL-3.0-or-later

package runindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/runlog-org/runlog/internal/observability/tracing"
)

// Entry is one catalogued run. DateEnd is empty while the run is still
// open (or was never closed cleanly).
type Entry struct {
	RunID      string `json:"run_id"`
	DateStart  string `json:"date_start"`
	DateEnd    string `json:"date_end,omitempty"`
	Successful bool   `json:"successful"`
	BasePath   string `json:"base_path"`
}

// RecordStart upserts the catalogue row for a newly opened run, clearing
// any completion state from a prior run under the same id.
func (ix *Index) RecordStart(ctx context.Context, entry Entry) (err error) {
	if ix == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "runindex.record_start",
		tracing.PersistDriver(sqliteDriverName),
		tracing.PersistOp("upsert"),
		tracing.RunID(entry.RunID),
	)
	defer tracing.End(span, &err)

	if entry.RunID == "" {
		err = fmt.Errorf("record start: run id required")
		return err
	}
	_, err = ix.sql.ExecContext(ctx, `
INSERT INTO runs (run_id, date_start, date_end, successful, base_path)
VALUES (?, ?, NULL, 0, ?)
ON CONFLICT(run_id) DO UPDATE SET
	date_start = excluded.date_start,
	date_end = NULL,
	successful = 0,
	base_path = excluded.base_path
`, entry.RunID, entry.DateStart, entry.BasePath)
	if err != nil {
		err = fmt.Errorf("record start %s: %w", entry.RunID, err)
		return err
	}
	return nil
}

// RecordFinish marks a run as completed.
func (ix *Index) RecordFinish(ctx context.Context, runID, dateEnd string, successful bool) (err error) {
	if ix == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "runindex.record_finish",
		tracing.PersistDriver(sqliteDriverName),
		tracing.PersistOp("update"),
		tracing.RunID(runID),
	)
	defer tracing.End(span, &err)

	if runID == "" {
		err = fmt.Errorf("record finish: run id required")
		return err
	}
	_, err = ix.sql.ExecContext(ctx, `
UPDATE runs SET date_end = ?, successful = ? WHERE run_id = ?
`, dateEnd, boolToInt(successful), runID)
	if err != nil {
		err = fmt.Errorf("record finish %s: %w", runID, err)
		return err
	}
	return nil
}

// Get retrieves one catalogued run by id.
func (ix *Index) Get(ctx context.Context, runID string) (Entry, bool, error) {
	if ix == nil {
		return Entry{}, false, nil
	}
	var entry Entry
	var dateEnd sql.NullString
	var successful int
	err := ix.sql.QueryRowContext(ctx, `
SELECT run_id, date_start, date_end, successful, base_path
FROM runs WHERE run_id = ?
`, runID).Scan(&entry.RunID, &entry.DateStart, &dateEnd, &successful, &entry.BasePath)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	entry.DateEnd = dateEnd.String
	entry.Successful = successful != 0
	return entry, true, nil
}

// List returns all catalogued runs, most recently started first.
func (ix *Index) List(ctx context.Context) (entries []Entry, err error) {
	if ix == nil {
		return nil, nil
	}
	ctx, span := tracing.Start(ctx, "runindex.list",
		tracing.PersistDriver(sqliteDriverName),
		tracing.PersistOp("read"),
	)
	defer tracing.End(span, &err)

	var rows *sql.Rows
	rows, err = ix.sql.QueryContext(ctx, `
SELECT run_id, date_start, date_end, successful, base_path
FROM runs ORDER BY date_start DESC, run_id DESC
`)
	if err != nil {
		err = fmt.Errorf("list runs: %w", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry Entry
		var dateEnd sql.NullString
		var successful int
		if scanErr := rows.Scan(&entry.RunID, &entry.DateStart, &dateEnd, &successful, &entry.BasePath); scanErr != nil {
			err = fmt.Errorf("scan run: %w", scanErr)
			return nil, err
		}
		entry.DateEnd = dateEnd.String
		entry.Successful = successful != 0
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = fmt.Errorf("list rows: %w", rowsErr)
		return nil, err
	}
	if span != nil {
		span.SetAttributes(tracing.Int("runs.count", len(entries)))
	}
	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
