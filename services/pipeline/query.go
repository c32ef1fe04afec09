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
	"sort"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

// ContractSummary is one row of the contract listing.
type ContractSummary struct {
	ID           string   `json:"id"`
	Filename     string   `json:"filename"`
	UploadedAt   string   `json:"uploadedAt"`
	Status       string   `json:"status"`
	RiskScore    *float64 `json:"riskScore"`
	ClausesCount int      `json:"clausesCount"`
	Summary      string   `json:"summary"`
}

// ClauseView is a clause as shown in the contract detail.
type ClauseView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// ContractDetail is the detail view of one contract.
type ContractDetail struct {
	ContractID   string       `json:"contract_id"`
	Filename     string       `json:"filename"`
	Summary      string       `json:"summary"`
	Clauses      []ClauseView `json:"clauses"`
	ClausesCount int          `json:"clauses_count"`
	Status       string       `json:"status"`
	UploadedAt   string       `json:"uploaded_at"`
	RiskScore    *float64     `json:"risk_score"`
}

// Query serves the read side of the contracts API.
type Query struct {
	svc *Services
}

// NewQuery creates the query handlers.
func NewQuery(svc *Services) *Query {
	return &Query{svc: svc}
}

// List returns every contract, newest upload first.
func (q *Query) List(ctx context.Context) (out []ContractSummary, err error) {
	ctx, end := q.svc.begin(ctx, StageQuery)
	defer func() { end(err) }()

	contracts, err := q.svc.Docs.ListContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	sort.SliceStable(contracts, func(i, j int) bool {
		return uploadTime(&contracts[i]).After(uploadTime(&contracts[j]))
	})
	out = make([]ContractSummary, 0, len(contracts))
	for i := range contracts {
		c := &contracts[i]
		out = append(out, ContractSummary{
			ID:           c.ContractID,
			Filename:     filenameOrDefault(c.Filename),
			UploadedAt:   uploadedAt(c),
			Status:       statusOrDefault(c.Status),
			RiskScore:    c.RiskScore,
			ClausesCount: c.ClausesCount,
			Summary:      c.Summary,
		})
	}
	return out, nil
}

// Detail returns one contract with its clauses.
//
// # Outputs
//
//   - error: ErrMissingContractID for an empty id, ErrInvalidContractID for
//     an id that is not a UUID, ErrContractNotFound when absent.
func (q *Query) Detail(ctx context.Context, id string) (d *ContractDetail, err error) {
	if id == "" {
		return nil, ErrMissingContractID
	}
	if !strfmt.IsUUID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContractID, id)
	}
	ctx, end := q.svc.begin(ctx, StageQuery)
	defer func() { end(err) }()

	c, err := q.svc.loadContract(ctx, id)
	if err != nil {
		return nil, err
	}
	clauses, err := q.svc.Docs.ListClauses(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list clauses: %w", err)
	}
	views := make([]ClauseView, 0, len(clauses))
	for _, cl := range clauses {
		typ := cl.Type
		if typ == "" {
			typ = datatypes.DefaultClauseType
		}
		views = append(views, ClauseView{Name: cl.ClauseName, Description: cl.Description, Type: typ})
	}
	return &ContractDetail{
		ContractID:   c.ContractID,
		Filename:     filenameOrDefault(c.Filename),
		Summary:      c.Summary,
		Clauses:      views,
		ClausesCount: len(views),
		Status:       statusOrDefault(c.Status),
		UploadedAt:   uploadedAt(c),
		RiskScore:    c.RiskScore,
	}, nil
}

func filenameOrDefault(name string) string {
	if name == "" {
		return DefaultFilename
	}
	return name
}

func statusOrDefault(s datatypes.Status) string {
	if s == "" {
		return string(datatypes.StatusProcessing)
	}
	return string(s)
}

func uploadTime(c *datatypes.Contract) time.Time {
	if c.UploadedAt.IsZero() {
		return c.CreatedAt
	}
	return c.UploadedAt
}

func uploadedAt(c *datatypes.Contract) string {
	t := uploadTime(c)
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
