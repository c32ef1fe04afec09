// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// HandlerFunc processes one message body. A nil error acknowledges it.
type HandlerFunc func(ctx context.Context, body []byte) error

// Delivery outcomes reported to an Observer.
const (
	OutcomeAck        = "ack"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
)

// Observer receives one callback per handled message.
type Observer interface {
	ObserveDelivery(queue, outcome string, attempt int, elapsed time.Duration)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The dispatcher sends the
// message straight to the dead-letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	// MaxAttempts is how many deliveries a message gets before it is
	// dead-lettered. Default 3.
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts" validate:"gte=0"`

	// PollWait is how long each Receive waits. Default 1s.
	PollWait time.Duration `yaml:"poll_wait" toml:"poll_wait"`

	// RetryDelay is multiplied by the attempt number before a failed
	// message is returned to its queue. Default 500ms, negative disables.
	RetryDelay time.Duration `yaml:"retry_delay" toml:"retry_delay"`
}

type route struct {
	queue   string
	workers int
	handler HandlerFunc
}

// Dispatcher runs worker goroutines that feed queues to handlers.
//
// # Description
//
// Each registered queue gets its own pool of workers. A failing handler
// causes a retry until MaxAttempts, after which the message body is sent to
// DeadLetter(queue) and acknowledged.
//
// # Thread Safety
//
// Handle must be called before Run. Run may be called once.
type Dispatcher struct {
	q        Queue
	cfg      DispatcherConfig
	logger   *slog.Logger
	observer Observer
	routes   []route
}

// NewDispatcher creates a dispatcher. observer may be nil.
func NewDispatcher(q Queue, cfg DispatcherConfig, logger *slog.Logger, observer Observer) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{q: q, cfg: cfg, logger: logger, observer: observer}
}

// Handle registers handler for queue with the given number of workers.
func (d *Dispatcher) Handle(queue string, workers int, handler HandlerFunc) {
	if workers <= 0 {
		workers = 1
	}
	d.routes = append(d.routes, route{queue: queue, workers: workers, handler: handler})
}

// Run blocks until ctx is cancelled or a queue fails. Cancellation is a
// clean shutdown and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.routes) == 0 {
		return errors.New("dispatcher: no handlers registered")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range d.routes {
		for i := 0; i < r.workers; i++ {
			g.Go(func() error { return d.work(gctx, r) })
		}
	}
	d.logger.Info("dispatcher started", "routes", len(d.routes))
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context, r route) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m, err := d.q.Receive(ctx, r.queue, d.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return err
			}
			d.logger.Warn("queue receive failed", "queue", r.queue, "error", err)
			if !sleep(ctx, d.cfg.PollWait) {
				return ctx.Err()
			}
			continue
		}
		if m == nil {
			continue
		}
		d.deliver(ctx, r, m)
	}
}

// ProcessOne receives and handles at most one message from queue. It
// reports whether a message was handled. Used by single-shot runners.
func (d *Dispatcher) ProcessOne(ctx context.Context, queue string, handler HandlerFunc) (bool, error) {
	m, err := d.q.Receive(ctx, queue, d.cfg.PollWait)
	if err != nil || m == nil {
		return false, err
	}
	d.deliver(ctx, route{queue: queue, workers: 1, handler: handler}, m)
	return true, nil
}

func (d *Dispatcher) deliver(ctx context.Context, r route, m *Message) {
	start := time.Now()
	err := d.invoke(ctx, r.handler, m)
	outcome := OutcomeAck

	switch {
	case err == nil:
		if ackErr := d.q.Ack(ctx, m); ackErr != nil {
			d.logger.Warn("ack failed", "queue", r.queue, "message_id", m.ID, "error", ackErr)
		}
	case IsPermanent(err) || m.Attempt >= d.cfg.MaxAttempts:
		outcome = OutcomeDeadLetter
		d.logger.Error("message dead-lettered",
			"queue", r.queue, "message_id", m.ID, "attempt", m.Attempt, "error", err)
		if dlqErr := d.q.Send(ctx, DeadLetter(r.queue), m.Body); dlqErr != nil {
			// Leave it in flight; recovery will redeliver it.
			d.logger.Error("dead-letter send failed", "queue", r.queue, "error", dlqErr)
			break
		}
		if ackErr := d.q.Ack(ctx, m); ackErr != nil {
			d.logger.Warn("ack failed", "queue", r.queue, "message_id", m.ID, "error", ackErr)
		}
	default:
		outcome = OutcomeRetry
		d.logger.Warn("message failed, retrying",
			"queue", r.queue, "message_id", m.ID, "attempt", m.Attempt, "error", err)
		sleep(ctx, d.cfg.RetryDelay*time.Duration(m.Attempt))
		if nackErr := d.q.Nack(context.WithoutCancel(ctx), m); nackErr != nil {
			d.logger.Warn("nack failed", "queue", r.queue, "message_id", m.ID, "error", nackErr)
		}
	}

	if d.observer != nil {
		d.observer.ObserveDelivery(r.queue, outcome, m.Attempt, time.Since(start))
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h HandlerFunc, m *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, m.Body)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
