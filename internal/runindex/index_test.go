// SPDX-License-Identifier: AGPL-3.0-or-later

package runindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordStartAndFinishRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	ix, err := Open(ctx, root)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })

	entry := Entry{
		RunID:     "run-1",
		DateStart: "2026-04-01 09:00:01.000000",
		BasePath:  filepath.Join(root, "run-1"),
	}
	if err := ix.RecordStart(ctx, entry); err != nil {
		t.Fatalf("record start: %v", err)
	}

	got, ok, err := ix.Get(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get after start: ok=%v err=%v", ok, err)
	}
	if got.DateEnd != "" || got.Successful {
		t.Fatalf("expected open run, got %+v", got)
	}

	if err := ix.RecordFinish(ctx, "run-1", "2026-04-01 09:05:00.000000", true); err != nil {
		t.Fatalf("record finish: %v", err)
	}
	got, ok, err = ix.Get(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get after finish: ok=%v err=%v", ok, err)
	}
	if got.DateEnd == "" || !got.Successful {
		t.Fatalf("expected finished run, got %+v", got)
	}

	// Reopening the same run id resets completion state.
	if err := ix.RecordStart(ctx, entry); err != nil {
		t.Fatalf("record restart: %v", err)
	}
	got, _, err = ix.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get after restart: %v", err)
	}
	if got.DateEnd != "" || got.Successful {
		t.Fatalf("expected completion state cleared, got %+v", got)
	}
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ix, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })

	runs := []Entry{
		{RunID: "run-old", DateStart: "2026-04-01 09:00:00.000000", BasePath: "/r/run-old"},
		{RunID: "run-new", DateStart: "2026-04-02 09:00:00.000000", BasePath: "/r/run-new"},
	}
	for _, entry := range runs {
		if err := ix.RecordStart(ctx, entry); err != nil {
			t.Fatalf("record %s: %v", entry.RunID, err)
		}
	}

	entries, err := ix.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-new" || entries[1].RunID != "run-old" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestRecordStartRequiresRunID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ix, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })

	if err := ix.RecordStart(ctx, Entry{DateStart: "2026-04-01"}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
}

func TestRescanRebuildsFromMetaFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	ix, err := Open(ctx, root)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })

	// A stale catalogue row whose directory no longer exists.
	if err := ix.RecordStart(ctx, Entry{RunID: "gone", DateStart: "2026-01-01 00:00:00.000000", BasePath: "/r/gone"}); err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	writeMeta := func(runID, body string) {
		dir := filepath.Join(root, runID)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatalf("mkdir %s: %v", runID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(body), 0o600); err != nil {
			t.Fatalf("write meta %s: %v", runID, err)
		}
	}
	writeMeta("run-done", `{
	"date_start": "2026-04-01 09:00:00.000000",
	"date_end": "2026-04-01 10:00:00.000000",
	"successful": true,
	"run_id": "run-done"
}`)
	writeMeta("run-open", `{
	"date_start": "2026-04-02 09:00:00.000000",
	"date_end": null,
	"successful": false,
	"run_id": "run-open"
}`)
	// A directory without metadata stays out of the catalogue.
	if err := os.MkdirAll(filepath.Join(root, "no-meta"), 0o700); err != nil {
		t.Fatalf("mkdir no-meta: %v", err)
	}

	count, err := ix.Rescan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 catalogued runs, got %d", count)
	}

	if _, ok, _ := ix.Get(ctx, "gone"); ok {
		t.Fatalf("expected stale row removed by rescan")
	}
	done, ok, err := ix.Get(ctx, "run-done")
	if err != nil || !ok {
		t.Fatalf("get run-done: ok=%v err=%v", ok, err)
	}
	if !done.Successful || done.DateEnd == "" {
		t.Fatalf("expected run-done finished, got %+v", done)
	}
	open, ok, err := ix.Get(ctx, "run-open")
	if err != nil || !ok {
		t.Fatalf("get run-open: ok=%v err=%v", ok, err)
	}
	if open.Successful || open.DateEnd != "" {
		t.Fatalf("expected run-open unfinished, got %+v", open)
	}
	if open.BasePath != filepath.Join(root, "run-open") {
		t.Fatalf("unexpected base path %q", open.BasePath)
	}
}
