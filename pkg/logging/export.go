// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// exportQueue decouples logging calls from the exporter.
type exportQueue struct {
	exporter LogExporter
	ch       chan LogEntry
	done     chan struct{}
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func newExportQueue(exporter LogExporter, size int) *exportQueue {
	q := &exportQueue{
		exporter: exporter,
		ch:       make(chan LogEntry, size),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *exportQueue) run() {
	defer close(q.done)
	for entry := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = q.exporter.Export(ctx, entry)
		cancel()
	}
}

func (q *exportQueue) enqueue(entry LogEntry) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.ch <- entry:
	default:
		q.dropped.Add(1)
	}
}

func (q *exportQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		return fmt.Errorf("drain export queue: %w", ctx.Err())
	}
	if err := q.exporter.Flush(ctx); err != nil {
		return fmt.Errorf("flush exporter: %w", err)
	}
	if err := q.exporter.Close(); err != nil {
		return fmt.Errorf("close exporter: %w", err)
	}
	return nil
}

// exportHandler turns slog records into LogEntry values.
type exportHandler struct {
	queue   *atomic.Pointer[exportQueue]
	level   Level
	service string
	attrs   []slog.Attr
	group   string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.queue.Load() != nil && level >= h.level.slogLevel()
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	q := h.queue.Load()
	if q == nil {
		return nil
	}
	entry := LogEntry{
		Timestamp: r.Time,
		Level:     levelFromSlog(r.Level).String(),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		addAttr(entry.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(entry.Attrs, h.group, a)
		return true
	})
	delete(entry.Attrs, "service")
	if len(entry.Attrs) == 0 {
		entry.Attrs = nil
	}
	q.enqueue(entry)
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(dst, key, ga)
		}
		return
	}
	if err, ok := a.Value.Any().(error); ok {
		dst[key] = err.Error()
		return
	}
	dst[key] = a.Value.Any()
}

// NopExporter discards everything.
type NopExporter struct{}

func (NopExporter) Export(context.Context, LogEntry) error { return nil }
func (NopExporter) Flush(context.Context) error            { return nil }
func (NopExporter) Close() error                           { return nil }

// BufferedExporter keeps entries in memory. Used by tests.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	flushed bool
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error {
	e.mu.Lock()
	e.flushed = true
	e.mu.Unlock()
	return nil
}

func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of everything exported so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Flushed reports whether Flush was called.
func (e *BufferedExporter) Flushed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushed
}

var (
	_ LogExporter = NopExporter{}
	_ LogExporter = (*BufferedExporter)(nil)
)
