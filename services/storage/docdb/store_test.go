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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// storeFactories runs each behavioural test against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"badger": func(t *testing.T) Store {
			db, err := kv.OpenInMemory()
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerStore(db)
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "contracts.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func sampleContract(id string) *datatypes.Contract {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &datatypes.Contract{
		ContractID: id,
		UserID:     "anonymous",
		Filename:   "lease.pdf",
		ObjectKey:  "contracts/anonymous/" + id + "/lease.pdf",
		Status:     datatypes.StatusUploaded,
		UploadedAt: ts,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func TestStores_ContractLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			want := sampleContract("c-1")
			require.NoError(t, s.PutContract(ctx, want))

			got, err := s.GetContract(ctx, "c-1")
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("contract mismatch (-want +got):\n%s", diff)
			}

			updated, err := s.UpdateContract(ctx, "c-1", func(c *datatypes.Contract) error {
				c.Status = datatypes.StatusAnalyzed
				c.ClausesCount = 3
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, datatypes.StatusAnalyzed, updated.Status)

			got, err = s.GetContract(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, 3, got.ClausesCount)
			assert.Equal(t, "lease.pdf", got.Filename)
		})
	}
}

func TestStores_NotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, err := s.GetContract(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			_, err = s.UpdateContract(ctx, "missing", func(*datatypes.Contract) error { return nil })
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStores_UpdateAbortsOnError(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			require.NoError(t, s.PutContract(ctx, sampleContract("c-1")))

			boom := errors.New("boom")
			_, err := s.UpdateContract(ctx, "c-1", func(c *datatypes.Contract) error {
				c.Status = datatypes.StatusFailed
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := s.GetContract(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, datatypes.StatusUploaded, got.Status)
		})
	}
}

func TestStores_ConcurrentUpdatesAreNotLost(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			require.NoError(t, s.PutContract(ctx, sampleContract("c-1")))

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateContract(ctx, "c-1", func(c *datatypes.Contract) error {
						c.Redrives++
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.GetContract(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, 4, got.Redrives)
		})
	}
}

func TestStores_ListAndClauses(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				require.NoError(t, s.PutContract(ctx, sampleContract(fmt.Sprintf("c-%d", i))))
			}
			all, err := s.ListContracts(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			for _, n := range []string{"Termination", "Payment"} {
				require.NoError(t, s.PutClause(ctx, datatypes.Clause{
					ClauseID:   datatypes.ClauseID("c-1", n),
					ContractID: "c-1",
					ClauseName: n,
					Type:       datatypes.DefaultClauseType,
				}))
			}
			require.NoError(t, s.PutClause(ctx, datatypes.Clause{ClauseID: "c-10_x", ContractID: "c-10"}))

			cls, err := s.ListClauses(ctx, "c-1")
			require.NoError(t, err)
			require.Len(t, cls, 2)
			assert.Equal(t, "c-1_Payment", cls[0].ClauseID)
			assert.Equal(t, "c-1_Termination", cls[1].ClauseID)
		})
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.PutContract(context.Background(), sampleContract("c-1")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetContract(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
}
