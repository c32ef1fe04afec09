// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the ContractIQ processing stages.
//
// Each stage is a thin adapter: it validates its input, calls one or two
// backends, writes the contract record and queues a message for the next
// stage. The stages are transport neutral. HTTP handlers, queue workers
// and Lambda adapters all call the same methods.
//
//	upload -> extraction -> analysis -> scoring -> notification
//
// The document store is the only state shared between stages.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
	"github.com/AleutianAI/ContractIQ/services/storage/docdb"
)

// Stage names used in logs, metrics and spans.
const (
	StageUpload     = "upload"
	StageExtraction = "extraction"
	StageAnalysis   = "analysis"
	StageScoring    = "scoring"
	StageNotify     = "notify"
	StageQuery      = "query"
)

var tracer = otel.Tracer("contractiq.pipeline")

// Buckets names the object-store buckets the stages use.
type Buckets struct {
	Upload string `yaml:"upload" toml:"upload" validate:"required"`
	Text   string `yaml:"text" toml:"text" validate:"required"`
}

// Observer receives one call per stage invocation.
type Observer interface {
	ObserveStage(stage, outcome string, elapsed time.Duration)
}

// Services is the backend bundle shared by every stage.
type Services struct {
	Blobs   blob.Store
	Docs    docdb.Store
	Buckets Buckets

	// Queue carries messages between stages. Nil disables forwarding.
	Queue queue.Sender

	Observer Observer
	Logger   *slog.Logger

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Services) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// begin starts the span and timer for one stage invocation. The returned
// function must be called with the stage's final error.
func (s *Services) begin(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if IsPermanent(err) {
				outcome = "rejected"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.Observer != nil {
			s.Observer.ObserveStage(stage, outcome, time.Since(start))
		}
	}
}

// enqueue sends v as JSON to the named queue. Without a queue it is a no-op.
func (s *Services) enqueue(ctx context.Context, name string, v any) error {
	if s.Queue == nil {
		s.logger().Debug("No queue configured, not forwarding", "queue", name)
		return nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", name, err)
	}
	if err := s.Queue.Send(ctx, name, body); err != nil {
		return fmt.Errorf("send to %s: %w", name, err)
	}
	return nil
}

// loadContract maps a missing record to ErrContractNotFound.
func (s *Services) loadContract(ctx context.Context, id string) (*datatypes.Contract, error) {
	c, err := s.Docs.GetContract(ctx, id)
	if errors.Is(err, docdb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load contract %s: %w", id, err)
	}
	return c, nil
}

// upsertContract applies fn to the stored contract, creating a bare record
// first when none exists. Stages after upload use it so objects that
// arrived without an upload call still get a record.
func (s *Services) upsertContract(ctx context.Context, id string, fn docdb.MutateFunc) (*datatypes.Contract, error) {
	c, err := s.Docs.UpdateContract(ctx, id, fn)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, docdb.ErrNotFound) {
		return nil, err
	}
	now := s.now()
	fresh := &datatypes.Contract{ContractID: id, CreatedAt: now, UpdatedAt: now}
	if err := fn(fresh); err != nil {
		return nil, err
	}
	if err := s.Docs.PutContract(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}
