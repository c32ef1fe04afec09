// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// BadgerStore keeps records in the embedded database.
type BadgerStore struct {
	db *kv.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates a store on an open database it does not own.
func NewBadgerStore(db *kv.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func contractKey(id string) string { return "doc/contract/" + id }

func clauseKey(contractID, clauseID string) string {
	return "doc/clause/" + contractID + "/" + clauseID
}

// PutContract implements Store.
func (s *BadgerStore) PutContract(ctx context.Context, c *datatypes.Contract) error {
	if c == nil || c.ContractID == "" {
		return errors.New("docdb: contract id is required")
	}
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, contractKey(c.ContractID), c)
	})
	if err != nil {
		return fmt.Errorf("docdb: put contract %s: %w", c.ContractID, err)
	}
	return nil
}

// GetContract implements Store.
func (s *BadgerStore) GetContract(ctx context.Context, id string) (*datatypes.Contract, error) {
	var c datatypes.Contract
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, contractKey(id), &c)
	})
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("docdb: get contract %s: %w", id, err)
	}
	return &c, nil
}

// UpdateContract implements Store. Badger's optimistic transactions detect
// a concurrent writer and kv.DB.Update retries the whole mutation.
func (s *BadgerStore) UpdateContract(ctx context.Context, id string, fn MutateFunc) (*datatypes.Contract, error) {
	var out datatypes.Contract
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		var c datatypes.Contract
		if err := kv.GetJSON(txn, contractKey(id), &c); err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.ContractID = id
		out = c
		return kv.PutJSON(txn, contractKey(id), &c)
	})
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("docdb: update contract %s: %w", id, err)
	}
	return &out, nil
}

// ListContracts implements Store.
func (s *BadgerStore) ListContracts(ctx context.Context) ([]datatypes.Contract, error) {
	var out []datatypes.Contract
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, "doc/contract/", func(key string, val []byte) (bool, error) {
			var c datatypes.Contract
			if err := json.Unmarshal(val, &c); err != nil {
				return false, fmt.Errorf("decode %s: %w", key, err)
			}
			out = append(out, c)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("docdb: list contracts: %w", err)
	}
	return out, nil
}

// PutClause implements Store.
func (s *BadgerStore) PutClause(ctx context.Context, cl datatypes.Clause) error {
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, clauseKey(cl.ContractID, cl.ClauseID), cl)
	})
	if err != nil {
		return fmt.Errorf("docdb: put clause %s: %w", cl.ClauseID, err)
	}
	return nil
}

// ListClauses implements Store.
func (s *BadgerStore) ListClauses(ctx context.Context, contractID string) ([]datatypes.Clause, error) {
	var out []datatypes.Clause
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, "doc/clause/"+contractID+"/", func(key string, val []byte) (bool, error) {
			var cl datatypes.Clause
			if err := json.Unmarshal(val, &cl); err != nil {
				return false, fmt.Errorf("decode %s: %w", key, err)
			}
			out = append(out, cl)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("docdb: list clauses %s: %w", contractID, err)
	}
	sortClauses(out)
	return out, nil
}

// Close implements Store. The shared database stays open.
func (s *BadgerStore) Close() error { return nil }
