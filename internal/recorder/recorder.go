// SPDX-License-Identifier: AGPL-3.0-or-later

// Package recorder wires metadata collection, run-directory resolution,
// the tabular log appender and the message sink into one run-scoped
// recorder: open once, log records, close once.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/runlog-org/runlog/internal/metadata"
	"github.com/runlog-org/runlog/internal/msglog"
	"github.com/runlog-org/runlog/internal/paths"
	"github.com/runlog-org/runlog/internal/runindex"
	"github.com/runlog-org/runlog/internal/tablog"
)

// consoleSinkName keys the process-wide console sink so repeated recorder
// construction never duplicates console output.
const consoleSinkName = "console"

// Options configures Open. The zero value records an auto-identified run
// under the platform-default root.
type Options struct {
	// RunID identifies the run; empty synthesizes "<pid>_<unixtime>".
	RunID string
	// Args is the caller's configuration, deep-copied into the metadata.
	Args map[string]any
	// Root is the run root directory; empty uses paths.Root().
	Root string
	// SymlinkLatest maintains the root-level "latest" alias.
	SymlinkLatest bool
	// Suffix is spliced into each artifact filename.
	Suffix string
	// Overwrite replaces a pre-existing metadata file instead of keeping it.
	Overwrite bool
	// Verbose echoes every logged record through the message sink.
	Verbose bool
	// Index, when set, receives best-effort run catalogue updates.
	Index *runindex.Index

	// Console overrides the process console sink (tests).
	Console msglog.Sink
	// Collector overrides the metadata collector (tests).
	Collector *metadata.Collector
}

// Recorder owns the artifacts of one run.
type Recorder struct {
	runID     string
	meta      *metadata.Record
	runPaths  paths.RunPaths
	collector *metadata.Collector
	sink      msglog.Sink
	msgFile   *os.File
	appender  *tablog.Appender
	index     *runindex.Index
	verbose   bool
	closed    bool
}

// Open collects metadata, resolves the run directory, persists the
// metadata immediately, sets up the message sink and opens the tabular log
// appender.
func Open(ctx context.Context, opts Options) (*Recorder, error) {
	runID := opts.RunID
	if runID == "" {
		runID = fmt.Sprintf("%d_%d", os.Getpid(), time.Now().Unix())
	}

	collector := opts.Collector
	if collector == nil {
		collector = metadata.New()
	}
	meta := collector.Collect(ctx, runID, opts.Args)

	console := opts.Console
	if console == nil {
		console = msglog.Console(consoleSinkName)
	}

	base := paths.RunDir(opts.Root, runID)
	if _, err := os.Stat(base); errors.Is(err, os.ErrNotExist) {
		console.Infof("Creating log directory: %s", base)
	}
	base, err := paths.EnsureRunDir(opts.Root, runID)
	if err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	if opts.SymlinkLatest {
		paths.EnsureLatestAlias(opts.Root, base)
	}

	runPaths := paths.ForRun(base, opts.Suffix)

	console.Infof("Saving messages to %s", runPaths.Msg)
	if _, err := os.Stat(runPaths.Msg); err == nil {
		console.Warnf("Path to message file already exists. New data will be appended.")
	}
	msgFile, err := os.OpenFile(runPaths.Msg, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open message file: %w", err)
	}
	sink := msglog.Multi(console, msglog.NewWriterSink(msgFile))

	r := &Recorder{
		runID:     runID,
		meta:      meta,
		runPaths:  runPaths,
		collector: collector,
		sink:      sink,
		msgFile:   msgFile,
		index:     opts.Index,
		verbose:   opts.Verbose,
	}

	sink.Infof("Saving arguments to %s", runPaths.Meta)
	if err := r.persistMetadata(opts.Overwrite); err != nil {
		_ = msgFile.Close()
		return nil, err
	}

	sink.Infof("Saving logs data to %s", runPaths.Logs)
	appender, err := tablog.Open(runPaths.Logs, sink)
	if err != nil {
		_ = msgFile.Close()
		return nil, err
	}
	r.appender = appender

	if r.index != nil {
		if err := r.index.RecordStart(ctx, runindex.Entry{
			RunID:     runID,
			DateStart: meta.DateStart,
			BasePath:  base,
		}); err != nil {
			sink.Warnf("Run index update failed: %v", err)
		}
	}

	return r, nil
}

// persistMetadata applies the collision policy: an existing metadata file
// is kept (with a warning) unless overwrite was requested.
func (r *Recorder) persistMetadata(overwrite bool) error {
	if _, err := os.Stat(r.runPaths.Meta); err == nil {
		if !overwrite {
			r.sink.Warnf("Path to meta file already exists. Not overriding meta.")
			return nil
		}
		if err := os.Remove(r.runPaths.Meta); err != nil {
			return fmt.Errorf("remove stale metadata: %w", err)
		}
	}
	return r.writeMetadata()
}

// writeMetadata rewrites the metadata file wholesale, pretty-printed with
// sorted keys.
func (r *Recorder) writeMetadata() error {
	data, err := json.MarshalIndent(r.meta.Map(), "", "    ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(r.runPaths.Meta, data, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Log appends one record to the tabular log. With verbose the record is
// also echoed through the message sink.
func (r *Recorder) Log(record map[string]any, verbose bool) error {
	return r.appender.Append(record, verbose || r.verbose)
}

// Close stamps the completion state into the metadata, rewrites the
// metadata file, and releases the log and message file handles. The
// handles are released even when the metadata write fails. Closing twice
// is a no-op.
func (r *Recorder) Close(ctx context.Context, successful bool) error {
	if r.closed {
		return nil
	}
	r.closed = true

	dateEnd := r.collector.Now()
	r.meta.DateEnd = &dateEnd
	r.meta.Successful = successful
	err := r.writeMetadata()

	if r.index != nil {
		if indexErr := r.index.RecordFinish(ctx, r.runID, dateEnd, successful); indexErr != nil {
			r.sink.Warnf("Run index update failed: %v", indexErr)
		}
	}

	if closeErr := r.appender.Close(); err == nil {
		err = closeErr
	}
	if closeErr := r.msgFile.Close(); err == nil {
		err = closeErr
	}
	return err
}

// RunID returns the identity of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// Paths returns the resolved artifact locations for the run.
func (r *Recorder) Paths() paths.RunPaths {
	return r.runPaths
}

// Metadata exposes the live metadata record (read-only by convention).
func (r *Recorder) Metadata() *metadata.Record {
	return r.meta
}

// Sink returns the run's message sink for callers that want to mirror
// their own status lines into out.log.
func (r *Recorder) Sink() msglog.Sink {
	return r.sink
}
