// SPDX-License-Identifier: AGPL-3.0-or-later

// Package msglog provides the leveled message sink a run mirrors its
// human-readable status lines through: a console-like channel plus the
// run's out.log file.
package msglog

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Sink consumes human-readable status lines for a run.
type Sink interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// WriterSink writes one plain line per message to an io.Writer.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterSink returns a line-oriented sink over out.
func NewWriterSink(out io.Writer) *WriterSink {
	if out == nil {
		return nil
	}
	return &WriterSink{out: out}
}

func (s *WriterSink) Infof(format string, args ...any) {
	s.emit(format, args...)
}

func (s *WriterSink) Warnf(format string, args ...any) {
	s.emit(format, args...)
}

func (s *WriterSink) emit(format string, args ...any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

// SlogSink adapts a slog.Logger to the Sink interface.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink emitting through the supplied logger. A nil
// logger falls back to slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Infof(format string, args ...any) {
	if s == nil {
		return
	}
	s.logger.Info(fmt.Sprintf(format, args...))
}

func (s *SlogSink) Warnf(format string, args ...any) {
	if s == nil {
		return
	}
	s.logger.Warn(fmt.Sprintf(format, args...))
}

// multiSink fans messages out to several sinks.
type multiSink struct {
	sinks []Sink
}

// Multi returns a sink that forwards messages to all provided sinks.
func Multi(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		return &multiSink{sinks: filtered}
	}
}

func (m *multiSink) Infof(format string, args ...any) {
	for _, s := range m.sinks {
		s.Infof(format, args...)
	}
}

func (m *multiSink) Warnf(format string, args ...any) {
	for _, s := range m.sinks {
		s.Warnf(format, args...)
	}
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Sink)
)

// Register stores sink under name unless one is already registered, and
// returns whichever sink is registered afterwards. Registering the same
// name twice is a no-op, so repeated recorder construction in one process
// never accumulates duplicate console output paths.
func Register(name string, sink Sink) Sink {
	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := registry[name]; ok {
		return existing
	}
	registry[name] = sink
	return sink
}

// Console returns the process-wide console sink registered under name,
// creating a slog-backed one on first use.
func Console(name string) Sink {
	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := registry[name]; ok {
		return existing
	}
	sink := NewSlogSink(slog.Default())
	registry[name] = sink
	return sink
}
