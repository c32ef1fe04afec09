// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docdb is the document database holding contract and clause
// records. It is the shared mutable state between pipeline stages.
package docdb

import (
	"context"
	"errors"
	"sort"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

// ErrNotFound is returned when a contract record does not exist.
var ErrNotFound = errors.New("record not found")

// MutateFunc edits a contract in place during UpdateContract. Returning an
// error aborts the update.
type MutateFunc func(c *datatypes.Contract) error

// Store persists contracts and their clauses.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. UpdateContract is a
// read-modify-write that must not lose concurrent updates.
type Store interface {
	// PutContract creates or replaces a contract.
	PutContract(ctx context.Context, c *datatypes.Contract) error

	// GetContract loads one contract. Returns ErrNotFound when absent.
	GetContract(ctx context.Context, id string) (*datatypes.Contract, error)

	// UpdateContract applies fn to the stored contract and saves the result.
	// Returns ErrNotFound when absent.
	UpdateContract(ctx context.Context, id string, fn MutateFunc) (*datatypes.Contract, error)

	// ListContracts returns every contract in no particular order.
	ListContracts(ctx context.Context) ([]datatypes.Contract, error)

	// PutClause creates or replaces a clause.
	PutClause(ctx context.Context, cl datatypes.Clause) error

	// ListClauses returns the clauses of a contract ordered by clause id.
	ListClauses(ctx context.Context, contractID string) ([]datatypes.Clause, error)

	// Close releases the store.
	Close() error
}

func sortClauses(cls []datatypes.Clause) {
	sort.Slice(cls, func(i, j int) bool { return cls[i].ClauseID < cls[j].ClauseID })
}
