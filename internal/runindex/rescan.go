// SPDX-License-Identifier: AGPL-3.0-or-later

package runindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Rescan rebuilds the catalogue from the meta*.json files actually present
// under the root, replacing whatever the index held before. It returns the
// number of runs catalogued. Unreadable or malformed metadata files are
// skipped; the run directory simply stays out of the catalogue.
func (ix *Index) Rescan(ctx context.Context) (int, error) {
	if ix == nil {
		return 0, nil
	}
	dirEntries, err := os.ReadDir(ix.root)
	if err != nil {
		return 0, fmt.Errorf("read root %s: %w", ix.root, err)
	}

	if _, err := ix.sql.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}

	count := 0
	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}
		base := filepath.Join(ix.root, dirEntry.Name())
		entry, ok := readMeta(base)
		if !ok {
			continue
		}
		if entry.RunID == "" {
			entry.RunID = dirEntry.Name()
		}
		entry.BasePath = base
		if err := ix.RecordStart(ctx, entry); err != nil {
			return count, err
		}
		if entry.DateEnd != "" || entry.Successful {
			if err := ix.RecordFinish(ctx, entry.RunID, entry.DateEnd, entry.Successful); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

// metaDoc is the subset of meta.json the index cares about.
type metaDoc struct {
	DateStart  string  `json:"date_start"`
	DateEnd    *string `json:"date_end"`
	Successful bool    `json:"successful"`
	RunID      string  `json:"run_id"`
}

// readMeta loads run metadata from base, preferring the unsuffixed
// meta.json when several recorders shared the directory.
func readMeta(base string) (Entry, bool) {
	matches, err := filepath.Glob(filepath.Join(base, "meta*.json"))
	if err != nil || len(matches) == 0 {
		return Entry{}, false
	}
	sort.Strings(matches)
	preferred := filepath.Join(base, "meta.json")
	for i, m := range matches {
		if m == preferred {
			matches[0], matches[i] = matches[i], matches[0]
			break
		}
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return Entry{}, false
	}
	var doc metaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Entry{}, false
	}
	entry := Entry{
		RunID:      doc.RunID,
		DateStart:  doc.DateStart,
		Successful: doc.Successful,
	}
	if doc.DateEnd != nil {
		entry.DateEnd = *doc.DateEnd
	}
	return entry, true
}
