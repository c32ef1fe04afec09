// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/scoring"
)

// ScoreResult is the scoring response.
type ScoreResult struct {
	ContractID string              `json:"contract_id"`
	RiskScore  float64             `json:"risk_score"`
	RiskLevel  datatypes.RiskLevel `json:"risk_level"`
}

// RiskScorer computes and stores the numeric risk score.
type RiskScorer struct {
	svc    *Services
	scorer *scoring.Scorer
}

// NewRiskScorer creates the scoring stage.
func NewRiskScorer(svc *Services, scorer *scoring.Scorer) *RiskScorer {
	if scorer == nil {
		scorer = scoring.NewScorer(nil, nil, svc.logger())
	}
	return &RiskScorer{svc: svc, scorer: scorer}
}

// HandleEvent parses a scoring request from raw and runs Score.
func (r *RiskScorer) HandleEvent(ctx context.Context, raw []byte) (*ScoreResult, error) {
	req, err := datatypes.ParseScoringRequest(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return r.Score(ctx, req)
}

// HandleMessage is HandleEvent for queue workers.
func (r *RiskScorer) HandleMessage(ctx context.Context, body []byte) error {
	_, err := r.HandleEvent(ctx, body)
	if err != nil && IsPermanent(err) {
		return queue.Permanent(err)
	}
	return err
}

// Score scores one contract.
//
// # Description
//
// Features come from the stored record and the analysis in the request,
// or the stored analysis when the request carries none. The model score is
// clamped to [0,100] and replaced by the linear fallback on any endpoint
// failure. The record gets the score rounded to two decimals, the time it
// was computed and status completed. A NotificationRequest is then queued.
//
// # Outputs
//
//   - error: ErrMissingContractID, ErrContractNotFound or a store error.
func (r *RiskScorer) Score(ctx context.Context, req datatypes.ScoringRequest) (res *ScoreResult, err error) {
	if req.ContractID == "" {
		return nil, ErrMissingContractID
	}
	id := req.ContractID
	ctx, end := r.svc.begin(ctx, StageScoring, attribute.String("contract_id", id))
	defer func() { end(err) }()
	log := r.svc.logger().With("stage", StageScoring, "contract_id", id)

	c, err := r.svc.loadContract(ctx, id)
	if err != nil {
		return nil, err
	}
	analysis := req.Analysis
	if analysis == nil {
		analysis = c.Analysis
	}

	features := scoring.ExtractFeatures(c, analysis)
	result := r.scorer.Score(ctx, features)
	score := result.Score
	rounded := datatypes.RoundScore(score)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Float64("risk_score", rounded),
		attribute.Bool("fallback", result.Fallback),
	)

	now := r.svc.now()
	if _, err := r.svc.Docs.UpdateContract(ctx, id, func(c *datatypes.Contract) error {
		c.RiskScore = &rounded
		c.RiskCalculatedAt = &now
		c.SetStatus(datatypes.StatusCompleted)
		c.UpdatedAt = now
		return nil
	}); err != nil {
		return nil, fmt.Errorf("store risk score: %w", err)
	}

	if qerr := r.svc.enqueue(ctx, queue.Notification, datatypes.NotificationRequest{ContractID: id}); qerr != nil {
		log.Warn("Failed to trigger notification", "error", qerr)
	}

	level := datatypes.LevelFor(score)
	log.Info("Risk score calculated", "risk_score", rounded, "risk_level", level, "fallback", result.Fallback)
	return &ScoreResult{ContractID: id, RiskScore: score, RiskLevel: level}, nil
}
