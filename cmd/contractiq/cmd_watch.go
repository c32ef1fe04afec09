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
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ContractIQ/services/ingest"
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := loadApp(ctx, modeFull, false)
	if err != nil {
		return err
	}
	defer a.close()

	w, err := ingest.New(ingest.Config{
		Dir:      args[0],
		UserID:   watchUser,
		Existing: watchExisting,
	}, a.rt.Uploader, a.logger)
	if err != nil {
		return err
	}

	printer.Info("Watching " + args[0] + " for PDF contracts")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	if watchWork {
		g.Go(func() error { return a.rt.Work(gctx) })
	}
	return g.Wait()
}
