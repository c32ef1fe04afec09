// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sweeper re-drives contracts that stopped moving through the
// pipeline.
//
// # Description
//
// Stage hand-offs are fire-and-forget queue sends. When a send is lost, or a
// message is dead-lettered, the contract stays in an intermediate status
// forever. The sweeper periodically lists contracts whose status has not
// changed for StuckAfter and queues the message that would have moved them
// on:
//
//	uploaded   -> ObjectCreated       (extraction queue)
//	processing -> ExtractionCompleted (analysis queue, text read from the text bucket)
//	analyzed   -> ScoringRequest      (scoring queue, stored analysis)
//
// A contract re-driven MaxRedrives times is marked failed instead.
package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/storage/docdb"
)

// Config tunes the sweeper.
type Config struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Interval between sweeps. Default 5m.
	Interval time.Duration `yaml:"interval" toml:"interval"`

	// StuckAfter is how long a contract may keep a non-terminal status.
	// Default 15m.
	StuckAfter time.Duration `yaml:"stuck_after" toml:"stuck_after"`

	// MaxRedrives before a contract is marked failed. Default 3.
	MaxRedrives int `yaml:"max_redrives" toml:"max_redrives" validate:"gte=0"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Interval: 5 * time.Minute, StuckAfter: 15 * time.Minute, MaxRedrives: 3}
}

// Observer is told about every re-driven contract.
type Observer interface {
	ObserveRedrive(status string)
}

// Result summarizes one sweep.
type Result struct {
	Scanned   int
	Redriven  int
	Failed    int
	Errors    []error
	StartedAt time.Time
	Elapsed   time.Duration
}

// Sweeper is the background re-drive loop.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use. Sweeps never overlap.
type Sweeper struct {
	docs     docdb.Store
	queue    queue.Sender
	buckets  pipeline.Buckets
	cfg      Config
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	sweepMu sync.Mutex

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a sweeper. observer and logger may be nil.
func New(docs docdb.Store, q queue.Sender, buckets pipeline.Buckets, cfg Config, observer Observer, logger *slog.Logger) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if cfg.MaxRedrives <= 0 {
		cfg.MaxRedrives = def.MaxRedrives
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		docs:     docs,
		queue:    q,
		buckets:  buckets,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a sweep immediately and then every Interval until Stop or ctx
// cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	s.logger.Info("Contract sweeper starting",
		"interval", s.cfg.Interval.String(),
		"stuck_after", s.cfg.StuckAfter.String(),
		"max_redrives", s.cfg.MaxRedrives,
	)
	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop signals the loop and waits for the current sweep to finish. Safe to
// call multiple times.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Contract sweeper stopped")
	return nil
}

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Sweeper) execute(ctx context.Context) {
	res, err := s.RunNow(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", "error", err)
		return
	}
	if res.Redriven > 0 || res.Failed > 0 || len(res.Errors) > 0 {
		s.logger.Info("Sweep finished",
			"scanned", res.Scanned,
			"redriven", res.Redriven,
			"failed", res.Failed,
			"errors", len(res.Errors),
			"elapsed", res.Elapsed.String(),
		)
	}
}

// RunNow performs one sweep. Per-contract failures are collected in
// Result.Errors. The error return is reserved for a failed listing.
func (s *Sweeper) RunNow(ctx context.Context) (Result, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	res := Result{StartedAt: s.now()}
	contracts, err := s.docs.ListContracts(ctx)
	if err != nil {
		return res, fmt.Errorf("list contracts: %w", err)
	}
	cutoff := res.StartedAt.Add(-s.cfg.StuckAfter)
	for i := range contracts {
		c := &contracts[i]
		res.Scanned++
		if !redrivable(c.Status) || lastChange(c).After(cutoff) {
			continue
		}
		failed, err := s.redrive(ctx, c)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Errorf("contract %s: %w", c.ContractID, err))
		case failed:
			res.Failed++
		default:
			res.Redriven++
		}
	}
	res.Elapsed = time.Since(res.StartedAt)
	return res, nil
}

func redrivable(s datatypes.Status) bool {
	return s == datatypes.StatusUploaded || s == datatypes.StatusProcessing || s == datatypes.StatusAnalyzed
}

func lastChange(c *datatypes.Contract) time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	if !c.UploadedAt.IsZero() {
		return c.UploadedAt
	}
	return c.CreatedAt
}

// errChanged aborts the record update when another stage moved the
// contract between listing and update.
var errChanged = errors.New("contract changed during sweep")

// redrive bumps the redrive counter and queues the next-stage message. It
// reports true when the contract exhausted its redrives and was failed.
func (s *Sweeper) redrive(ctx context.Context, listed *datatypes.Contract) (bool, error) {
	failed := false
	now := s.now()
	c, err := s.docs.UpdateContract(ctx, listed.ContractID, func(c *datatypes.Contract) error {
		failed = false
		if c.Status != listed.Status {
			return errChanged
		}
		c.UpdatedAt = now
		if c.Redrives >= s.cfg.MaxRedrives {
			failed = true
			c.AnalysisError = fmt.Sprintf("pipeline stalled in status %s after %d redrives", listed.Status, c.Redrives)
			c.Status = datatypes.StatusFailed
			return nil
		}
		c.Redrives++
		return nil
	})
	if errors.Is(err, errChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if failed {
		s.logger.Warn("Contract marked failed", "contract_id", c.ContractID, "status", listed.Status, "redrives", c.Redrives)
		return true, nil
	}

	name, msg := s.message(c)
	body, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	if err := s.queue.Send(ctx, name, body); err != nil {
		return false, fmt.Errorf("send to %s: %w", name, err)
	}
	if s.observer != nil {
		s.observer.ObserveRedrive(string(listed.Status))
	}
	s.logger.Info("Contract re-driven", "contract_id", c.ContractID, "status", listed.Status, "queue", name, "redrives", c.Redrives)
	return false, nil
}

func (s *Sweeper) message(c *datatypes.Contract) (string, any) {
	switch c.Status {
	case datatypes.StatusUploaded:
		return queue.Extraction, datatypes.ObjectCreated{Bucket: s.buckets.Upload, Key: c.ObjectKey}
	case datatypes.StatusProcessing:
		return queue.Analysis, datatypes.ExtractionCompleted{
			JobID:      "redrive-" + c.ContractID,
			ContractID: c.ContractID,
			ObjectKey:  c.ObjectKey,
			Bucket:     s.buckets.Text,
		}
	default:
		return queue.Scoring, datatypes.ScoringRequest{ContractID: c.ContractID}
	}
}
