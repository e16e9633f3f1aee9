// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tablog implements the resumable, schema-evolving tabular log: an
// append-only CSV file whose column set grows as new keys appear in
// appended records, and whose tick numbering survives process restarts by
// recovering state from the rows already on disk.
package tablog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/runlog-org/runlog/internal/msglog"
)

// ErrClosed is returned by Append after the log has been closed; it
// indicates a caller lifecycle bug, not an I/O problem.
var ErrClosed = errors.New("tablog: append on closed log")

// Reserved system-managed columns, always the first two of every log.
const (
	ColTick = "_tick"
	ColTime = "_time"
)

// legacyTickHeader is the spelling older files used for the tick column.
// It is accepted on read and normalised to ColTick.
const legacyTickHeader = "# _tick"

// Appender owns one tabular log file. It is a single-writer resource: the
// caller must not share one Appender, or one underlying file, across
// concurrent writers.
type Appender struct {
	path string
	sink msglog.Sink
	now  func() time.Time

	file     *os.File
	writer   *csv.Writer
	columns  []string
	colIndex map[string]int
	nextTick int64
	resumed  bool
	closed   bool
}

// Option customises an Appender.
type Option func(*Appender)

// WithNow overrides the wall clock used for the _time column.
func WithNow(now func() time.Time) Option {
	return func(a *Appender) { a.now = now }
}

// Open prepares the log at path for appending. A missing file starts a
// fresh log with the two reserved columns and tick 0. An existing file is
// resumed: its header supplies the column list and its last complete row
// supplies the next tick. Resume warnings and tick-recovery failures are
// reported through sink; only genuine I/O failures make Open return an
// error.
func Open(path string, sink msglog.Sink, opts ...Option) (*Appender, error) {
	a := &Appender{
		path:    path,
		sink:    sink,
		now:     time.Now,
		columns: []string{ColTick, ColTime},
	}
	for _, opt := range opts {
		opt(a)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh log.
	case err != nil:
		return nil, fmt.Errorf("read existing log %s: %w", path, err)
	default:
		a.resume(string(data))
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	a.file = file
	a.writer = csv.NewWriter(file)
	a.rebuildIndex()
	return a, nil
}

// resume recovers column layout and tick numbering from the existing file
// contents. History being malformed never aborts startup: tick recovery
// falls back to 0 with a warning.
func (a *Appender) resume(data string) {
	a.resumed = true
	a.warnf("Path to log file already exists. New data will be appended.")

	lines := strings.Split(data, "\n")
	// The final element is either empty (the file ends with a newline) or an
	// incomplete row from an interrupted write; neither is a complete row.
	lines = lines[:len(lines)-1]
	if len(lines) == 0 {
		return
	}

	// Older writers terminated rows with \r\n.
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	if header, err := csv.NewReader(strings.NewReader(lines[0])).Read(); err == nil && len(header) > 0 {
		for i, name := range header {
			if name == legacyTickHeader {
				header[i] = ColTick
			}
		}
		a.columns = header
	}

	if len(lines) < 2 {
		return
	}
	last := lines[len(lines)-1]
	first := last
	if i := strings.IndexByte(last, ','); i >= 0 {
		first = last[:i]
	}
	tick, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		a.warnf("Could not recover last tick from %s (%v). Restarting tick numbering at 0.", a.path, err)
		a.nextTick = 0
		return
	}
	a.nextTick = tick + 1
}

// Append assigns the next tick and the current wall clock to record, grows
// the column list with any keys not seen before (first-seen order), and
// writes one row in column order, flushing to stable storage before
// returning. The header line is written only for the row whose tick is 0;
// columns introduced after tick 0 never appear in the on-disk header. This
// is an inherited limitation of the format, kept so existing consumers see
// the historical contract.
func (a *Appender) Append(record map[string]any, verbose bool) error {
	if a.closed {
		return ErrClosed
	}

	tick := a.nextTick
	a.nextTick++
	record[ColTick] = tick
	record[ColTime] = float64(a.now().UnixNano()) / float64(time.Second)

	for k := range record {
		if _, ok := a.colIndex[k]; !ok {
			a.colIndex[k] = len(a.columns)
			a.columns = append(a.columns, k)
		}
	}

	if tick == 0 {
		if _, err := fmt.Fprintf(a.file, "%s\n", strings.Join(a.columns, ",")); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	if verbose {
		a.echo(record)
	}

	row := make([]string, len(a.columns))
	for k, v := range record {
		row[a.colIndex[k]] = formatValue(v)
	}
	if err := a.writer.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	a.writer.Flush()
	if err := a.writer.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}

// echo mirrors the record through the message sink as a sorted
// "key: value" line.
func (a *Appender) echo(record map[string]any) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, record[k])
	}
	a.infof("LOG | %s", strings.Join(parts, ", "))
}

// Close flushes buffered state and releases the file handle. Closing an
// already-closed appender is a no-op.
func (a *Appender) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.writer.Flush()
	err := a.writer.Error()
	if syncErr := a.file.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := a.file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("close log %s: %w", a.path, err)
	}
	return nil
}

// Columns returns a copy of the current column list.
func (a *Appender) Columns() []string {
	return append([]string(nil), a.columns...)
}

// NextTick reports the tick the next appended row will receive.
func (a *Appender) NextTick() int64 {
	return a.nextTick
}

// Resumed reports whether Open found a pre-existing log file.
func (a *Appender) Resumed() bool {
	return a.resumed
}

func (a *Appender) rebuildIndex() {
	a.colIndex = make(map[string]int, len(a.columns))
	for i, name := range a.columns {
		a.colIndex[name] = i
	}
}

func (a *Appender) infof(format string, args ...any) {
	if a.sink != nil {
		a.sink.Infof(format, args...)
	}
}

func (a *Appender) warnf(format string, args ...any) {
	if a.sink != nil {
		a.sink.Warnf(format, args...)
	}
}

// formatValue renders one cell. Missing keys leave their slot as the empty
// string, which is also how nil values are stored.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
