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
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ContractIQ/pkg/config"
	"github.com/AleutianAI/ContractIQ/services/riskmodel"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
)

// trainOptions mirrors the model train flags.
type trainOptions struct {
	Rows         int
	Seed         int64
	TestFraction float64
	Trees        int
	Depth        int
}

// trainModel fits a forest on synthetic contracts and evaluates it on the
// held-out share.
func trainModel(ctx context.Context, o trainOptions) (*riskmodel.Artifact, error) {
	if o.TestFraction <= 0 || o.TestFraction >= 1 {
		return nil, fmt.Errorf("test fraction must be in (0,1), got %v", o.TestFraction)
	}
	data := riskmodel.Synthetic(o.Rows, o.Seed)
	train, test := riskmodel.Split(data, o.TestFraction, o.Seed)
	if train.Len() == 0 || test.Len() == 0 {
		return nil, fmt.Errorf("%d rows is too few to split", o.Rows)
	}

	p := riskmodel.DefaultParams()
	p.NumTrees = o.Trees
	p.MaxDepth = o.Depth
	p.Seed = o.Seed
	forest, err := riskmodel.Fit(ctx, train.X, train.Y, p)
	if err != nil {
		return nil, err
	}
	m, err := riskmodel.Evaluate(forest, test)
	if err != nil {
		return nil, err
	}
	return riskmodel.NewArtifact(forest, &m, time.Now()), nil
}

func writeArtifact(path string, a *riskmodel.Artifact) error {
	var buf bytes.Buffer
	if err := a.Write(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func readArtifact(path string) (*riskmodel.Artifact, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read model: %w", err)
	}
	a, err := riskmodel.ReadArtifact(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}

func metricsLine(m riskmodel.Metrics) string {
	return fmt.Sprintf("MSE %.3f  R² %.3f  on %d rows", m.MSE, m.R2, m.Samples)
}

func runModelTrain(cmd *cobra.Command, args []string) error {
	printer.Title("Training risk model")
	a, err := trainModel(cmd.Context(), trainOptions{
		Rows:         trainRows,
		Seed:         trainSeed,
		TestFraction: testFraction,
		Trees:        trainTrees,
		Depth:        trainDepth,
	})
	if err != nil {
		return err
	}
	if err := writeArtifact(modelPath, a); err != nil {
		return err
	}
	printer.Success("Wrote " + modelPath)
	printer.Info(metricsLine(*a.Metrics))
	return nil
}

func runModelEvaluate(cmd *cobra.Command, args []string) error {
	a, _, err := readArtifact(modelPath)
	if err != nil {
		return err
	}
	m, err := riskmodel.Evaluate(a.Forest, riskmodel.Synthetic(evalRows, evalSeed))
	if err != nil {
		return err
	}
	printer.Info(metricsLine(m))
	return nil
}

func runModelServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, _, err := readArtifact(modelPath)
	if err != nil {
		return err
	}
	addr := modelAddr
	if addr == "" {
		addr = config.DefaultConfig().Scoring.ServeAddr
		if cfg, err := config.Load(configPath); err == nil {
			addr = cfg.Scoring.ServeAddr
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           riskmodel.NewServer(a.Forest, nil).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	printer.Success("Serving " + modelPath + " on " + addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func runModelDeploy(cmd *cobra.Command, args []string) error {
	_, data, err := readArtifact(modelPath)
	if err != nil {
		return err
	}

	a, err := loadApp(cmd.Context(), modeStorage, false)
	if err != nil {
		return err
	}
	defer a.close()

	bucket := deployBucket
	if bucket == "" {
		bucket = a.cfg.Scoring.ModelsBucket
	}
	if err := deployModel(cmd.Context(), a.rt.Blobs, bucket, data); err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Deployed to %s/%s", bucket, riskmodel.ArtifactKey))
	return nil
}

func deployModel(ctx context.Context, store blob.Store, bucket string, data []byte) error {
	if bucket == "" {
		return errors.New("no models bucket configured")
	}
	return store.Put(ctx, bucket, riskmodel.ArtifactKey, data, blob.PutOptions{ContentType: "application/json"})
}
