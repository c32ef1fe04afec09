// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"math"
	"strconv"
	"strings"
)

// RiskLevel buckets a score in [0,100].
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

const (
	highRiskThreshold   = 70
	mediumRiskThreshold = 40
)

// LevelFor returns high for scores >= 70, medium for >= 40, low otherwise.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= highRiskThreshold:
		return RiskHigh
	case score >= mediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Label is the human-readable form used in notifications.
func (l RiskLevel) Label() string {
	switch l {
	case RiskHigh:
		return "High Risk"
	case RiskMedium:
		return "Medium Risk"
	default:
		return "Low Risk"
	}
}

// RiskLabel returns the notification label for an optional score, or "N/A".
func RiskLabel(score *float64) string {
	if score == nil {
		return "N/A"
	}
	return LevelFor(*score).Label()
}

// FormatScore renders an optional score with at least one decimal, so 42
// reads "42.0" and 72.25 stays "72.25". A nil score is "N/A".
func FormatScore(score *float64) string {
	if score == nil {
		return "N/A"
	}
	s := strconv.FormatFloat(*score, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// RoundScore rounds to two decimals.
func RoundScore(score float64) float64 {
	return math.Round(score*100) / 100
}

// ClampScore limits a score to [0,100]. NaN becomes 0.
func ClampScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}
