// SPDX-License-Identifier: AGPL-3.0-or-later

package tablog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// memorySink records messages for assertions.
type memorySink struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (s *memorySink) Infof(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, fmt.Sprintf(format, args...))
}

func (s *memorySink) Warnf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warns = append(s.warns, fmt.Sprintf(format, args...))
}

func (s *memorySink) warnContaining(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.warns {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func fixedClock() func() time.Time {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	return func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestFreshLogTicksAreSequential(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	a, err := Open(path, nil, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	for i := 0; i < 3; i++ {
		if err := a.Append(map[string]any{"loss": 0.5 - float64(i)*0.1}, false); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	lines := readLines(t, path)
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", len(lines))
	}
	if lines[0] != "_tick,_time,loss" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	for i, line := range lines[1:] {
		want := fmt.Sprintf("%d,", i)
		if !strings.HasPrefix(line, want) {
			t.Fatalf("row %d: expected prefix %q, got %q", i, want, line)
		}
	}
}

func TestColumnEvolutionKeepsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	a, err := Open(path, nil, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if err := a.Append(map[string]any{"loss": 0.5}, false); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := a.Append(map[string]any{"loss": 0.3, "acc": 0.9}, false); err != nil {
		t.Fatalf("append second: %v", err)
	}

	cols := a.Columns()
	want := []string{"_tick", "_time", "loss", "acc"}
	if len(cols) != len(want) {
		t.Fatalf("expected columns %v, got %v", want, cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("expected columns %v, got %v", want, cols)
		}
	}

	// The header stays at the tick-0 shape: columns introduced later never
	// get a retroactive header entry.
	lines := readLines(t, path)
	if lines[0] != "_tick,_time,loss" {
		t.Fatalf("header changed after column growth: %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], ",0.9") {
		t.Fatalf("second row missing acc value: %q", lines[2])
	}
}

func TestMissingColumnsLeaveEmptySlots(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	a, err := Open(path, nil, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if err := a.Append(map[string]any{"loss": 0.5, "acc": 0.9}, false); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := a.Append(map[string]any{"loss": 0.4}, false); err != nil {
		t.Fatalf("append second: %v", err)
	}

	lines := readLines(t, path)
	second := strings.Split(lines[2], ",")
	if len(second) != 4 {
		t.Fatalf("expected 4 fields, got %v", second)
	}
	if second[3] != "" {
		t.Fatalf("expected empty acc slot, got %q", second[3])
	}
}

func TestResumeContinuesTickNumbering(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	contents := "_tick,_time,loss\n0,100.5,0.9\n7,101.5,0.1\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	sink := &memorySink{}
	a, err := Open(path, sink, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if !a.Resumed() {
		t.Fatalf("expected resumed state")
	}
	if got := a.NextTick(); got != 8 {
		t.Fatalf("expected next tick 8, got %d", got)
	}
	if !sink.warnContaining("already exists") {
		t.Fatalf("expected resume warning, got %v", sink.warns)
	}

	if err := a.Append(map[string]any{"loss": 0.05}, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines := readLines(t, path)
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "8,") {
		t.Fatalf("expected resumed row to start at tick 8, got %q", last)
	}
	// No second header on resume.
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "_tick") {
			t.Fatalf("header rewritten on resume: %v", lines)
		}
	}
}

func TestResumeWithCorruptTickFallsBackToZero(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	contents := "_tick,_time,loss\n0,100.5,0.9\ncorrupt,101.5,0.1\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	sink := &memorySink{}
	a, err := Open(path, sink, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if got := a.NextTick(); got != 0 {
		t.Fatalf("expected fallback to tick 0, got %d", got)
	}
	if !sink.warnContaining("Restarting tick numbering") {
		t.Fatalf("expected corrupt-tick warning, got %v", sink.warns)
	}

	if err := a.Append(map[string]any{"loss": 0.2}, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines := readLines(t, path)
	if !strings.HasPrefix(lines[len(lines)-1], "0,") {
		t.Fatalf("expected new row at tick 0, got %q", lines[len(lines)-1])
	}
}

func TestLegacyTickHeaderIsNormalised(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	contents := "# _tick,_time,loss\n3,100.5,0.9\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	a, err := Open(path, &memorySink{}, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	cols := a.Columns()
	if cols[0] != ColTick {
		t.Fatalf("expected legacy header normalised to %q, got %q", ColTick, cols[0])
	}
	if got := a.NextTick(); got != 4 {
		t.Fatalf("expected next tick 4, got %d", got)
	}
}

func TestAppendAfterCloseReturnsErrClosed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	a, err := Open(path, nil, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Append(map[string]any{"loss": 0.5}, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if err := a.Append(map[string]any{"loss": 0.1}, false); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestVerboseEchoFormatsSortedPairs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	sink := &memorySink{}
	a, err := Open(path, sink, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if err := a.Append(map[string]any{"loss": 0.5, "acc": 0.9}, true); err != nil {
		t.Fatalf("append: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.infos) != 1 {
		t.Fatalf("expected one echoed line, got %v", sink.infos)
	}
	line := sink.infos[0]
	if !strings.HasPrefix(line, "LOG | ") {
		t.Fatalf("unexpected echo prefix: %q", line)
	}
	if strings.Index(line, "acc:") > strings.Index(line, "loss:") {
		t.Fatalf("expected keys sorted, got %q", line)
	}
	if !strings.Contains(line, "_tick: 0") {
		t.Fatalf("expected system columns in echo, got %q", line)
	}
}

func TestEmptyExistingFileStartsAtZero(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs.csv")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("seed empty log: %v", err)
	}

	sink := &memorySink{}
	a, err := Open(path, sink, WithNow(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if got := a.NextTick(); got != 0 {
		t.Fatalf("expected tick 0 on empty file, got %d", got)
	}
	if err := a.Append(map[string]any{"loss": 1.0}, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines := readLines(t, path)
	if lines[0] != "_tick,_time,loss" {
		t.Fatalf("expected header written for empty file, got %q", lines[0])
	}
}
