// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by every ContractIQ process.
//
// Output goes to up to three destinations:
//
//   - stderr, as text or JSON (default)
//   - a daily JSON file under Config.Dir (optional)
//   - a LogExporter fed asynchronously (optional)
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "worker"})
//	defer logger.Close()
//	logger.Slog().Info("contract analyzed", "contract_id", id)
//
// Stage code receives the *slog.Logger from Slog() and never needs this
// package directly.
//
// # Export
//
// The exporter sees every record at or above Config.Level. Records are
// queued on a bounded channel and handed to the exporter by one goroutine.
// When the queue is full the record is dropped and counted in Dropped().
//
// # Security Considerations
//
// Nothing is redacted. Callers log ids and counts, not contract text or
// API keys.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a minimum log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR" or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// ParseLevel maps a config string to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Config configures a Logger. The zero value logs info and above to
// stderr as text.
type Config struct {
	Level Level

	// Service is attached to every record as the "service" attribute and
	// names the log file.
	Service string

	// Dir enables a "{service}_{YYYY-MM-DD}.log" JSON file. "~" expands to
	// the home directory.
	Dir string

	// JSON switches stderr to JSON. Files are always JSON.
	JSON bool

	// Quiet disables stderr.
	Quiet bool

	// Exporter receives every record asynchronously.
	Exporter LogExporter

	// QueueSize bounds the export queue. Default 1024.
	QueueSize int
}

// LogEntry is one record handed to a LogExporter.
type LogEntry struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Service   string         `json:"service,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogExporter ships log entries somewhere outside the process.
//
// Export is called from a single goroutine. Flush is called once during
// Close, before the exporter's own Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// Logger owns the handlers, the optional file and the export goroutine.
//
// # Thread Safety
//
// Safe for concurrent use. Close is idempotent.
type Logger struct {
	slog    *slog.Logger
	file    *os.File
	export  atomic.Pointer[exportQueue]
	queueSz int
	closeMu sync.Mutex
	closed  bool
}

// New builds a Logger. File errors are reported on stderr and file logging
// is skipped rather than failing startup.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	var handlers []slog.Handler

	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	l := &Logger{queueSz: cfg.QueueSize}
	if l.queueSz <= 0 {
		l.queueSz = 1024
	}
	if cfg.Dir != "" {
		f, err := openLogFile(cfg.Dir, cfg.Service, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		} else {
			l.file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = handlers[0]
	default:
		h = &multiHandler{handlers: handlers}
	}
	// The export handler is always installed so an exporter can be
	// attached after the backends it writes to are open.
	h = &multiHandler{handlers: []slog.Handler{h, &exportHandler{queue: &l.export, level: cfg.Level, service: cfg.Service}}}
	if cfg.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	l.slog = slog.New(h)
	if cfg.Exporter != nil {
		_ = l.Attach(cfg.Exporter)
	}
	return l
}

// ErrExporterAttached is returned by Attach when an exporter is running.
var ErrExporterAttached = errors.New("logging: exporter already attached")

// Attach starts exporting to e. Records logged before Attach are not
// exported.
func (l *Logger) Attach(e LogExporter) error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return errors.New("logging: logger is closed")
	}
	if l.export.Load() != nil {
		return ErrExporterAttached
	}
	l.export.Store(newExportQueue(e, l.queueSz))
	return nil
}

// Default logs info and above to stderr for the named service.
func Default(service string) *Logger {
	return New(Config{Level: LevelInfo, Service: service})
}

// Slog returns the underlying logger.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Dropped reports how many records the export queue discarded.
func (l *Logger) Dropped() int64 {
	q := l.export.Load()
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Close drains the export queue, flushes and closes the exporter, then
// closes the log file. The first error is returned.
func (l *Logger) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if q := l.export.Load(); q != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

func openLogFile(dir, service string, now time.Time) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "contractiq"
	}
	name := fmt.Sprintf("%s_%s.log", service, now.Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// multiHandler fans a record out to every enabled handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}
