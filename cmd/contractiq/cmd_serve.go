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
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ContractIQ/services/pipeline/bootstrap"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := loadApp(ctx, modeFull, false)
	if err != nil {
		return err
	}
	defer a.close()

	opts, err := bootstrap.AuthOptions(a.cfg.Auth, a.logger)
	if err != nil {
		return err
	}
	return a.rt.Serve(ctx, opts, !noWorkers)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := loadApp(ctx, modeFull, false)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("Draining pipeline queues", "backend", a.cfg.Queue.Backend, "workers", a.cfg.Queue.Workers)
	return a.rt.Work(ctx)
}

// runLambda hands one stage to the Lambda runtime. lambda.Start does not
// return while the function is live.
func runLambda(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !slices.Contains(functionNames, name) {
		return fmt.Errorf("unknown function %q, expected one of %v", name, functionNames)
	}

	a, err := loadApp(cmd.Context(), modeFull, true)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("Starting Lambda function", "function", name)
	return a.rt.Functions().Start(name)
}
