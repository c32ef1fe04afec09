// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring turns a contract analysis into a numeric risk score.
//
// A six-element feature vector is sent to a model endpoint. When the
// endpoint cannot produce a score the linear fallback is used instead, so
// Score always returns a value in [0,100].
package scoring

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

// DefaultLiabilityScore is used until liability is derived from the analysis.
const DefaultLiabilityScore = 0.5

// RiskyTerms are matched as substrings of the lowercased summary.
var RiskyTerms = []string{
	"penalty",
	"forfeit",
	"liquidated damages",
	"indemnify",
	"unlimited liability",
	"waiver",
	"exclusive",
	"binding arbitration",
}

// Features is the model input in its named form.
type Features struct {
	ClausesCount   int     `json:"clauses_count"`
	RiskyKeywords  int     `json:"risky_keywords"`
	MissingClauses int     `json:"missing_clauses"`
	HiddenRisks    int     `json:"hidden_risks"`
	HasPenalties   bool    `json:"has_penalties"`
	LiabilityScore float64 `json:"liability_score"`
}

// ExtractFeatures builds the feature vector from the stored contract and
// its analysis. a may be nil.
func ExtractFeatures(c *datatypes.Contract, a *datatypes.Analysis) Features {
	f := Features{LiabilityScore: DefaultLiabilityScore}
	summary := ""
	if c != nil {
		f.ClausesCount = c.ClausesCount
		summary = strings.ToLower(c.Summary)
	}
	f.RiskyKeywords = CountRiskyKeywords(summary)
	f.HasPenalties = strings.Contains(summary, "penalty")
	if a != nil {
		f.HiddenRisks = len(a.HiddenRisks)
		f.MissingClauses = len(a.MissingClauses)
		if !f.HasPenalties {
			f.HasPenalties = strings.Contains(strings.ToLower(a.PaymentTerms.String()), "penalty")
		}
	}
	return f
}

// CountRiskyKeywords returns how many distinct RiskyTerms occur in text.
// Repeated occurrences of one term count once.
func CountRiskyKeywords(text string) int {
	text = strings.ToLower(text)
	n := 0
	for _, term := range RiskyTerms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}

// Vector returns the features in model order.
func (f Features) Vector() []float64 {
	p := 0.0
	if f.HasPenalties {
		p = 1
	}
	return []float64{
		float64(f.ClausesCount),
		float64(f.RiskyKeywords),
		float64(f.MissingClauses),
		float64(f.HiddenRisks),
		p,
		f.LiabilityScore,
	}
}

// CSV renders the vector as one text/csv row, e.g. "10,5,2,3,1,0.5".
func (f Features) CSV() string {
	v := f.Vector()
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Fallback is the linear score used when no model prediction is available.
func Fallback(f Features) float64 {
	v := f.Vector()
	score := 20.0 +
		5*v[1] +
		3*v[2] +
		10*v[3] +
		15*v[4] +
		20*v[5]
	return datatypes.ClampScore(score)
}
