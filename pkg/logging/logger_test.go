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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/services/storage/blob"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelInfo,
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, Service: "worker", Dir: dir, Quiet: true})

	logger.Slog().Info("contract analyzed", "contract_id", "c-1")
	logger.Slog().Debug("hidden")
	require.NoError(t, logger.Close())

	name := "worker_" + time.Now().Format("2006-01-02") + ".log"
	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, "contract analyzed", lines[0]["msg"])
	assert.Equal(t, "c-1", lines[0]["contract_id"])
	assert.Equal(t, "worker", lines[0]["service"])
}

func TestFileLoggingBadDirFallsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	logger := New(Config{Dir: filepath.Join(blocker, "logs"), Quiet: true})
	assert.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

func TestExporterReceivesEntries(t *testing.T) {
	exp := &BufferedExporter{}
	logger := New(Config{Level: LevelWarn, Service: "api", Quiet: true, Exporter: exp})

	log := logger.Slog().With("stage", "analysis")
	log.Info("below threshold")
	log.Warn("llm retry", "attempt", 2, "error", errors.New("throttled"))
	log.WithGroup("job").Error("failed", "id", "j-9")
	require.NoError(t, logger.Close())

	entries := exp.Entries()
	require.Len(t, entries, 2)
	assert.True(t, exp.Flushed())

	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "llm retry", entries[0].Message)
	assert.Equal(t, "api", entries[0].Service)
	assert.Equal(t, "analysis", entries[0].Attrs["stage"])
	assert.EqualValues(t, 2, entries[0].Attrs["attempt"])
	assert.Equal(t, "throttled", entries[0].Attrs["error"])
	assert.NotContains(t, entries[0].Attrs, "service")

	assert.Equal(t, "ERROR", entries[1].Level)
	assert.Equal(t, "j-9", entries[1].Attrs["job.id"])
}

func TestCloseIsIdempotent(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: NopExporter{}})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	logger.Slog().Error("after close")
	assert.Equal(t, int64(1), logger.Dropped())
}

func newBlobStore(t *testing.T) blob.Store {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return blob.NewBadgerStore(db)
}

func TestBlobExporterBatches(t *testing.T) {
	ctx := context.Background()
	store := newBlobStore(t)
	exp := NewBlobExporter(store, "ops", "worker", 2)
	day := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, exp.Export(ctx, LogEntry{Timestamp: day, Level: "INFO", Message: "one"}))
	objs, err := store.List(ctx, "ops", "logs/")
	require.NoError(t, err)
	assert.Empty(t, objs)

	require.NoError(t, exp.Export(ctx, LogEntry{Timestamp: day, Level: "INFO", Message: "two"}))
	require.NoError(t, exp.Export(ctx, LogEntry{Timestamp: day.Add(13 * time.Hour), Level: "WARN", Message: "three"}))
	require.NoError(t, exp.Flush(ctx))

	objs, err = store.List(ctx, "ops", "logs/worker/")
	require.NoError(t, err)
	require.Len(t, objs, 2)

	var sawFirst, sawSecond bool
	for _, o := range objs {
		assert.True(t, strings.HasSuffix(o.Key, ".jsonl"), o.Key)
		data, err := store.Get(ctx, "ops", o.Key)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		switch {
		case strings.HasPrefix(o.Key, "logs/worker/2025-03-01/"):
			sawFirst = true
			assert.Len(t, lines, 2)
		case strings.HasPrefix(o.Key, "logs/worker/2025-03-02/"):
			sawSecond = true
			require.Len(t, lines, 1)
			var e LogEntry
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
			assert.Equal(t, "three", e.Message)
		default:
			t.Errorf("unexpected key %s", o.Key)
		}
	}
	assert.True(t, sawFirst)
	assert.True(t, sawSecond)
}

func TestBlobExporterFlushEmpty(t *testing.T) {
	exp := NewBlobExporter(newBlobStore(t), "ops", "", 0)
	assert.NoError(t, exp.Flush(context.Background()))
	assert.NoError(t, exp.Close())
}

func TestAttachAfterNew(t *testing.T) {
	logger := New(Config{Quiet: true})
	logger.Slog().Info("before attach")

	exp := &BufferedExporter{}
	require.NoError(t, logger.Attach(exp))
	assert.ErrorIs(t, logger.Attach(exp), ErrExporterAttached)

	logger.Slog().Info("after attach")
	require.NoError(t, logger.Close())

	entries := exp.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "after attach", entries[0].Message)
	assert.Error(t, logger.Attach(exp))
}
