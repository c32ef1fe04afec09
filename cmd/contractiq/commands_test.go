// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/pkg/config"
	"github.com/AleutianAI/ContractIQ/services/pipeline/bootstrap"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/riskmodel"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// writeConfig writes a config backed by an in-memory KV and an on-disk
// sqlite document store, so contracts survive between commands.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `meta:
  version: "1"
service:
  http_addr: "127.0.0.1:0"
  data_dir: "` + dir + `"
storage:
  docs:
    backend: sqlite
    path: "` + filepath.Join(dir, "contracts.db") + `"
  kv:
    in_memory: true
sweeper:
  enabled: false
logging:
  level: error
`
	path := filepath.Join(dir, "contractiq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath, outputMode = "", ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainModelWritesArtifact(t *testing.T) {
	a, err := trainModel(context.Background(), trainOptions{Rows: 300, Seed: 1, TestFraction: 0.2, Trees: 5, Depth: 4})
	require.NoError(t, err)
	require.NotNil(t, a.Metrics)
	assert.Equal(t, 60, a.Metrics.Samples)
	assert.Len(t, a.Forest.Trees, 5)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, writeArtifact(path, a))

	back, data, err := readArtifact(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, riskmodel.ArtifactFormat, back.Format)
	assert.Len(t, back.Forest.Trees, 5)
}

func TestTrainModelRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		opts trainOptions
	}{
		{"ZeroFraction", trainOptions{Rows: 100, TestFraction: 0, Trees: 1, Depth: 2}},
		{"WholeFraction", trainOptions{Rows: 100, TestFraction: 1, Trees: 1, Depth: 2}},
		{"NoRows", trainOptions{Rows: 0, TestFraction: 0.2, Trees: 1, Depth: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := trainModel(context.Background(), tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestReadArtifactMissingFile(t *testing.T) {
	_, _, err := readArtifact(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "read model")
}

func TestDeployModel(t *testing.T) {
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := blob.NewBadgerStore(db)

	payload := []byte(`{"format":"x"}`)
	require.NoError(t, deployModel(context.Background(), store, "models", payload))

	got, err := store.Get(context.Background(), "models", riskmodel.ArtifactKey)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Error(t, deployModel(context.Background(), store, "", payload))
}

func TestModelTrainAndEvaluateCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	out, err := execute(t, "--output", "machine", "model", "train",
		"--rows", "200", "--trees", "3", "--depth", "3", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: Wrote "+path)
	assert.Contains(t, out, "on 40 rows")

	out, err = execute(t, "--output", "machine", "model", "evaluate", "--model", path, "--rows", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "on 50 rows")
}

func TestContractsCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "--output", "machine", "contracts", "list")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	rt, err := bootstrap.OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	id := uuid.NewString()
	score := 72.5
	now := time.Now().UTC()
	require.NoError(t, rt.Docs.PutContract(context.Background(), &datatypes.Contract{
		ContractID:   id,
		Filename:     "lease.pdf",
		Status:       datatypes.StatusCompleted,
		UploadedAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
		ClausesCount: 0,
		Summary:      "A short lease.",
		RiskScore:    &score,
	}))
	require.NoError(t, rt.Close())

	out, err = execute(t, "--config", cfgPath, "--output", "machine", "contracts", "list")
	require.NoError(t, err)
	assert.Equal(t, id+"\tcompleted\t72.5\t0\tlease.pdf\n", out)

	out, err = execute(t, "--config", cfgPath, "--output", "machine", "contracts", "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "A short lease.")

	_, err = execute(t, "--config", cfgPath, "contracts", "get", uuid.NewString())
	assert.EqualError(t, err, "Contract not found")

	_, err = execute(t, "--config", cfgPath, "contracts", "get", "not-a-uuid")
	assert.EqualError(t, err, "Invalid contract ID")
}

func TestLambdaRejectsUnknownFunction(t *testing.T) {
	_, err := execute(t, "lambda", "resize")
	assert.ErrorContains(t, err, `unknown function "resize"`)
}
