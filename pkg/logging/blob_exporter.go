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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/ContractIQ/services/storage/blob"
)

// DefaultBatchSize is how many entries a BlobExporter buffers per object.
const DefaultBatchSize = 500

// BlobExporter writes batches of entries as JSON lines to an object store
// under logs/{service}/{YYYY-MM-DD}/{seq}.jsonl.
//
// Entries are grouped by the day they were logged, so a batch spanning
// midnight becomes two objects.
type BlobExporter struct {
	store     blob.Store
	bucket    string
	service   string
	batchSize int
	now       func() time.Time

	mu     sync.Mutex
	buf    []LogEntry
	seq    int
	prefix string
}

// NewBlobExporter creates an exporter. batchSize <= 0 uses DefaultBatchSize.
func NewBlobExporter(store blob.Store, bucket, service string, batchSize int) *BlobExporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if service == "" {
		service = "contractiq"
	}
	return &BlobExporter{
		store:     store,
		bucket:    bucket,
		service:   service,
		batchSize: batchSize,
		now:       time.Now,
		// Process start makes sequence numbers unique across restarts.
		prefix: time.Now().UTC().Format("150405"),
	}
}

// Export buffers the entry and uploads once the batch is full.
func (e *BlobExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	e.buf = append(e.buf, entry)
	if len(e.buf) < e.batchSize {
		e.mu.Unlock()
		return nil
	}
	batch := e.buf
	e.buf = nil
	e.mu.Unlock()
	return e.upload(ctx, batch)
}

// Flush uploads whatever is buffered.
func (e *BlobExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.buf
	e.buf = nil
	e.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return e.upload(ctx, batch)
}

// Close is a no-op. The store is owned by the caller.
func (e *BlobExporter) Close() error { return nil }

func (e *BlobExporter) upload(ctx context.Context, batch []LogEntry) error {
	byDay := make(map[string]*bytes.Buffer)
	var days []string
	for _, entry := range batch {
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = e.now()
		}
		day := ts.UTC().Format("2006-01-02")
		buf, ok := byDay[day]
		if !ok {
			buf = &bytes.Buffer{}
			byDay[day] = buf
			days = append(days, day)
		}
		line, err := json.Marshal(entry)
		if err != nil {
			line, _ = json.Marshal(LogEntry{Timestamp: entry.Timestamp, Level: entry.Level, Message: entry.Message, Service: entry.Service})
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	for _, day := range days {
		key := e.nextKey(day)
		err := e.store.Put(ctx, e.bucket, key, byDay[day].Bytes(), blob.PutOptions{ContentType: "application/x-ndjson"})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}

func (e *BlobExporter) nextKey(day string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("logs/%s/%s/%s-%06d.jsonl", e.service, day, e.prefix, e.seq)
}

var _ LogExporter = (*BlobExporter)(nil)
