// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kv opens the embedded BadgerDB instance used by the local
// backends of the blob store, the document database and the queue.
//
// All three share a single DB and separate themselves by key prefix:
//
//	blob/{bucket}/{key}          object bytes
//	blobmeta/{bucket}/{key}      object metadata
//	doc/contract/{id}            contract records
//	doc/clause/{contract}/{id}   clause records
//	q/{queue}/{seq}              ready messages
//	qi/{queue}/{id}              in-flight messages
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrKeyNotFound is returned by GetJSON when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// Config holds configuration for the embedded database.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string `yaml:"path" toml:"path"`

	// InMemory keeps everything in RAM. Used by tests and the demo mode.
	InMemory bool `yaml:"in_memory" toml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes" toml:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval" toml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" toml:"gc_discard_ratio"`

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger `yaml:"-" toml:"-"`
}

// DefaultConfig returns durable settings for a data directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// DB is the shared database handle.
//
// # Thread Safety
//
// Safe for concurrent use. Close stops the GC loop before closing Badger.
type DB struct {
	*badger.DB
	inMemory bool
	path     string

	gcCancel context.CancelFunc
	gcDone   chan struct{}

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

// Open opens the database described by cfg.
//
// # Description
//
// Creates the data directory when needed. When GCInterval is positive and
// the database is on disk, a background value log GC loop is started.
//
// # Outputs
//
//   - *DB: Caller must Close it.
//   - error: Non-nil when the path is missing or Badger fails to open.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("kv: path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("kv: create data directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger: %w", err)
	}

	db := &DB{
		DB:       bdb,
		inMemory: cfg.InMemory,
		path:     cfg.Path,
		seqs:     make(map[string]*badger.Sequence),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		ctx, cancel := context.WithCancel(context.Background())
		db.gcCancel = cancel
		db.gcDone = make(chan struct{})
		go db.gcLoop(ctx, cfg.GCInterval, ratio, cfg.Logger)
	}
	return db, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) gcLoop(ctx context.Context, interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}

// Close stops GC, releases sequences and closes Badger.
func (d *DB) Close() error {
	if d.gcCancel != nil {
		d.gcCancel()
		<-d.gcDone
	}
	d.seqMu.Lock()
	for name, s := range d.seqs {
		_ = s.Release()
		delete(d.seqs, name)
	}
	d.seqMu.Unlock()
	return d.DB.Close()
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool { return d.inMemory }

// Path returns the data directory, empty for in-memory databases.
func (d *DB) Path() string { return d.path }

// Update runs fn in a read-write transaction, retrying on conflicts.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxAttempts = 8
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.DB.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt+1 < maxAttempts {
			continue
		}
		return err
	}
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.DB.View(fn)
}

// Next returns the next value of the named monotonic sequence.
func (d *DB) Next(name string) (uint64, error) {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	seq, ok := d.seqs[name]
	if !ok {
		var err error
		seq, err = d.DB.GetSequence([]byte("seq/"+name), 100)
		if err != nil {
			return 0, fmt.Errorf("kv: sequence %s: %w", name, err)
		}
		d.seqs[name] = seq
	}
	return seq.Next()
}

// =============================================================================
// JSON helpers
// =============================================================================

// PutJSON marshals v and stores it under key.
func PutJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// GetJSON loads key into v. Returns ErrKeyNotFound when absent.
func GetJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("kv: get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// ScanPrefix calls fn for every key under prefix in key order. Returning
// false from fn stops the scan. Values passed to fn are only valid for the
// duration of the call.
func ScanPrefix(txn *badger.Txn, prefix string, fn func(key string, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var cont bool
		err := item.Value(func(val []byte) error {
			var ferr error
			cont, ferr = fn(string(item.Key()), val)
			return ferr
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
