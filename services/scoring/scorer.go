// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"context"
	"log/slog"
	"math"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

// Observer is notified whenever the fallback formula replaces a prediction.
type Observer interface {
	ObserveScoringFallback(reason string)
}

// Result is a computed score and where it came from.
type Result struct {
	Score    float64
	Fallback bool
	Err      error
}

// Scorer combines a predictor with the linear fallback.
//
// A nil predictor always uses the fallback.
type Scorer struct {
	predictor Predictor
	observer  Observer
	logger    *slog.Logger
}

// NewScorer creates a scorer. predictor and observer may be nil.
func NewScorer(predictor Predictor, observer Observer, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{predictor: predictor, observer: observer, logger: logger}
}

// Score returns a score in [0,100]. It never fails: any predictor error,
// including a non-finite prediction, selects the fallback.
func (s *Scorer) Score(ctx context.Context, f Features) Result {
	if s.predictor == nil {
		s.fallback("disabled")
		return Result{Score: Fallback(f), Fallback: true}
	}
	v, err := s.predictor.Predict(ctx, f)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = ErrNoPrediction
	}
	if err != nil {
		s.logger.Warn("Model endpoint failed, using fallback score", "error", err)
		s.fallback("endpoint_error")
		return Result{Score: Fallback(f), Fallback: true, Err: err}
	}
	return Result{Score: datatypes.ClampScore(v)}
}

func (s *Scorer) fallback(reason string) {
	if s.observer != nil {
		s.observer.ObserveScoringFallback(reason)
	}
}
