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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/ContractIQ/pkg/config"
	"github.com/AleutianAI/ContractIQ/pkg/logging"
	"github.com/AleutianAI/ContractIQ/services/pipeline/bootstrap"
	"github.com/AleutianAI/ContractIQ/services/pipeline/telemetry"
)

// app is the process state shared by the pipeline commands.
type app struct {
	cfg      *config.Config
	logs     *logging.Logger
	logger   *slog.Logger
	registry *prometheus.Registry
	rt       *bootstrap.Runtime

	shutdownTelemetry func(context.Context) error
}

type appMode int

const (
	// modeFull builds every stage.
	modeFull appMode = iota
	// modeStorage opens the stores only.
	modeStorage
)

// loadApp reads the config, sets up logging and telemetry, and opens the
// runtime. json forces JSON logs, which the Lambda runtime expects.
func loadApp(ctx context.Context, mode appMode, json bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, registry: bootstrap.NewRegistry()}
	a.logs = logging.New(logging.Config{
		Level:   level,
		Service: cfg.Telemetry.ServiceName,
		Dir:     cfg.Logging.Dir,
		JSON:    cfg.Logging.JSON || json,
	})
	a.logger = a.logs.Slog()
	slog.SetDefault(a.logger)

	if mode == modeFull {
		a.shutdownTelemetry, err = telemetry.Init(ctx, cfg.Telemetry, a.registry)
		if err != nil {
			_ = a.logs.Close()
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	opts := []bootstrap.Option{bootstrap.WithRegistry(a.registry), bootstrap.WithLogger(a.logger)}
	if mode == modeFull {
		a.rt, err = bootstrap.New(ctx, cfg, opts...)
	} else {
		a.rt, err = bootstrap.OpenStorage(ctx, cfg, opts...)
	}
	if err != nil {
		_ = a.close()
		return nil, err
	}

	if b := cfg.Logging.ExportBucket; b != "" {
		exp := logging.NewBlobExporter(a.rt.Blobs, b, cfg.Telemetry.ServiceName, cfg.Logging.BatchSize)
		if err := a.logs.Attach(exp); err != nil {
			a.logger.Warn("Log export not attached", "error", err)
		}
	}
	return a, nil
}

// close flushes logs before the stores they may export to are closed.
func (a *app) close() error {
	var errs []error
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	if a.rt != nil {
		errs = append(errs, a.rt.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}
