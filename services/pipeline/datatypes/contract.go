// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the storage records and queue messages shared by
// the ContractIQ pipeline stages.
package datatypes

import (
	"time"
)

// Status is the lifecycle state of a contract record.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusAnalyzed   Status = "analyzed"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusAnalyzed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no stage will move the contract any further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxSummaryLength bounds the summary stored on a contract record.
const MaxSummaryLength = 500

// Contract is the document-database record for one uploaded contract.
//
// # Description
//
// A contract is created by the upload stage and then mutated in place by
// each later stage. It is the only state shared across stages.
//
// # Fields
//
//   - RiskScore is nil until the scoring stage runs. A stored zero is a real
//     score, not an absent one.
//   - Analysis holds the full analysis written by the analysis stage.
//   - Redrives counts how often the sweeper re-queued a contract stuck in
//     its current status. SetStatus resets it.
type Contract struct {
	ContractID       string     `json:"contract_id"`
	UserID           string     `json:"user_id"`
	Filename         string     `json:"filename"`
	ObjectKey        string     `json:"s3_key"`
	Status           Status     `json:"status"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ClausesCount     int        `json:"clauses_count"`
	Summary          string     `json:"summary,omitempty"`
	RiskScore        *float64   `json:"risk_score,omitempty"`
	RiskCalculatedAt *time.Time `json:"risk_calculated_at,omitempty"`
	Analysis         *Analysis  `json:"analysis,omitempty"`
	AnalysisError    string     `json:"analysis_error,omitempty"`
	Redrives         int        `json:"redrives,omitempty"`
}

// SetStatus moves the contract to status. The redrive counter restarts when
// the status actually changes.
func (c *Contract) SetStatus(status Status) {
	if c.Status != status {
		c.Redrives = 0
	}
	c.Status = status
}

// Clause is one clause row extracted by the analysis stage.
type Clause struct {
	ClauseID    string    `json:"clause_id"`
	ContractID  string    `json:"contract_id"`
	ClauseName  string    `json:"clause_name"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefaultClauseType is used when the model did not classify a clause.
const DefaultClauseType = "other"

// ClauseID builds the clause key "{contract_id}_{name}". An empty name
// becomes "unknown".
func ClauseID(contractID, name string) string {
	if name == "" {
		name = "unknown"
	}
	return contractID + "_" + name
}

// TruncateSummary cuts s to MaxSummaryLength runes.
func TruncateSummary(s string) string {
	return TruncateRunes(s, MaxSummaryLength)
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	if n < 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
