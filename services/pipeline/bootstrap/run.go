// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/services/pipeline/lambdafn"
	"github.com/AleutianAI/ContractIQ/services/pipeline/routes"
	"github.com/AleutianAI/ContractIQ/services/queue"
)

// DepthInterval is how often queue depth gauges are refreshed.
const DepthInterval = 15 * time.Second

// Router builds the HTTP API with tracing and request metrics.
func (r *Runtime) Router(opts extensions.ServiceOptions) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(r.Config.Telemetry.ServiceName))
	router.Use(r.Metrics.GinMiddleware())

	routes.SetupRoutes(router, routes.Stages{
		Uploader:  r.Uploader,
		Query:     r.Query,
		Extractor: r.Extractor,
		Analyzer:  r.Analyzer,
		Scorer:    r.Scorer,
		Notifier:  r.Notifier,
		Hub:       r.Hub,
		Metrics:   promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{}),
	}, opts)
	return router
}

// Dispatcher routes every pipeline queue to its stage.
func (r *Runtime) Dispatcher() *queue.Dispatcher {
	d := queue.NewDispatcher(r.Queue, r.Config.Queue.Dispatch, r.Logger, r.Metrics)
	workers := r.Config.Queue.Workers
	d.Handle(queue.Extraction, workers, r.Extractor.HandleMessage)
	d.Handle(queue.Analysis, workers, r.Analyzer.HandleMessage)
	d.Handle(queue.Scoring, workers, r.Scorer.HandleMessage)
	d.Handle(queue.Notification, workers, r.Notifier.HandleMessage)
	return d
}

// Functions exposes the stages to the Lambda adapters.
func (r *Runtime) Functions() *lambdafn.Functions {
	return &lambdafn.Functions{
		Uploader:  r.Uploader,
		Query:     r.Query,
		Extractor: r.Extractor,
		Analyzer:  r.Analyzer,
		Scorer:    r.Scorer,
		Notifier:  r.Notifier,
	}
}

// Work drains the queues and runs the sweeper until ctx is cancelled.
func (r *Runtime) Work(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	r.startWorkers(gctx, g)
	return g.Wait()
}

// Serve runs the HTTP API. With workers it also drains the queues in the
// same process, which is the single-binary deployment.
func (r *Runtime) Serve(ctx context.Context, opts extensions.ServiceOptions, workers bool) error {
	srv := &http.Server{
		Addr:              r.Config.Service.HTTPAddr,
		Handler:           r.Router(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if workers {
		r.startWorkers(gctx, g)
	}
	g.Go(func() error {
		r.Logger.Info("Starting ContractIQ API", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := r.Config.Service.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func (r *Runtime) startWorkers(ctx context.Context, g *errgroup.Group) {
	d := r.Dispatcher()
	g.Go(func() error { return d.Run(ctx) })
	g.Go(func() error {
		r.sampleDepth(ctx, DepthInterval)
		return nil
	})
	if r.Config.Sweeper.Enabled {
		g.Go(func() error {
			if err := r.Sweeper.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return r.Sweeper.Stop()
		})
	}
}

// sampleDepth refreshes the queue depth gauges until ctx is done.
func (r *Runtime) sampleDepth(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		r.RefreshDepth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshDepth reads every queue depth once into the gauges.
func (r *Runtime) RefreshDepth(ctx context.Context) {
	for _, name := range queue.Names {
		n, err := r.Queue.Depth(ctx, name)
		if err != nil {
			if ctx.Err() == nil {
				r.Logger.Debug("Queue depth unavailable", "queue", name, "error", err)
			}
			continue
		}
		r.Metrics.SetQueueDepth(name, n)
	}
}
