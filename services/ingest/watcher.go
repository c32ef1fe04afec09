// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest uploads PDFs dropped into a watched folder.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/ContractIQ/services/pipeline"
)

// Uploader is the part of the upload stage the watcher needs.
type Uploader interface {
	Store(ctx context.Context, userID, filename string, data []byte) (*pipeline.UploadResult, error)
}

// Config configures a Watcher.
type Config struct {
	// Dir is watched non-recursively.
	Dir string

	// UserID owns every uploaded contract. Empty means anonymous.
	UserID string

	// Debounce is how long a file must go without events before it is
	// read. Default 500ms.
	Debounce time.Duration

	// ProcessedDir receives files after upload. Default Dir/processed.
	ProcessedDir string

	// Existing uploads PDFs already in Dir at startup.
	Existing bool
}

// Watcher turns settled PDF files into uploads.
//
// # Thread Safety
//
// Run must be called once. Ingest is safe to call concurrently with Run
// for different paths.
type Watcher struct {
	cfg      Config
	uploader Uploader
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	// pending maps a path to its last event time. Only Run touches it.
	pending map[string]time.Time
}

// New creates the watcher and its processed directory.
func New(cfg Config, up Uploader, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("ingest: watch directory required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.Dir, "processed")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.ProcessedDir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: create processed dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("ingest: watch %s: %w", cfg.Dir, err)
	}
	return &Watcher{
		cfg:      cfg,
		uploader: up,
		logger:   logger.With("component", "ingest", "dir", cfg.Dir),
		watcher:  fw,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run processes events until ctx is cancelled. The fsnotify watcher is
// closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if w.cfg.Existing {
		w.scanExisting(ctx)
	}

	tick := time.NewTicker(w.cfg.Debounce / 2)
	defer tick.Stop()

	w.logger.Info("Watching for contracts")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if IsCandidate(ev.Name) {
					w.pending[ev.Name] = time.Now()
				}
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				delete(w.pending, ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", "error", err)
		case now := <-tick.C:
			w.flushSettled(ctx, now)
		}
	}
}

func (w *Watcher) flushSettled(ctx context.Context, now time.Time) {
	for path, last := range w.pending {
		if now.Sub(last) < w.cfg.Debounce {
			continue
		}
		delete(w.pending, path)
		if err := w.Ingest(ctx, path); err != nil {
			w.logger.Error("Failed to ingest contract", "path", path, "error", err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn("Failed to list existing files", "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.cfg.Dir, e.Name())
		if e.IsDir() || !IsCandidate(path) {
			continue
		}
		if err := w.Ingest(ctx, path); err != nil {
			w.logger.Error("Failed to ingest contract", "path", path, "error", err)
		}
	}
}

// Ingest uploads one file and moves it to the processed directory.
func (w *Watcher) Ingest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	res, err := w.uploader.Store(ctx, w.cfg.UserID, filepath.Base(path), data)
	if err != nil {
		return err
	}
	dest := filepath.Join(w.cfg.ProcessedDir, res.ContractID+"-"+filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move %s: %w", path, err)
	}
	w.logger.Info("Contract ingested", "contract_id", res.ContractID, "file", filepath.Base(path))
	return nil
}

// IsCandidate reports whether path looks like a finished PDF. Editor
// swap files and partial downloads are skipped.
func IsCandidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	return pipeline.IsPDF(base)
}
