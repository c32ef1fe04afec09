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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// BadgerQueue is a durable FIFO queue in the embedded database.
//
// # Description
//
// Ready messages live under q/{queue}/{seq} so key order is arrival order.
// Receive moves the first one to qi/{queue}/{id} in the same transaction.
// RecoverInFlight puts in-flight messages back after a crash.
//
// # Thread Safety
//
// Safe for concurrent use. Competing receivers conflict in Badger and the
// loser retries, so a message is handed to exactly one of them.
type BadgerQueue struct {
	db           *kv.DB
	pollInterval time.Duration

	mu      sync.Mutex
	wakeups map[string]chan struct{}
	closed  bool
	now     func() time.Time
}

var _ Queue = (*BadgerQueue)(nil)

// NewBadgerQueue creates a queue on an open database it does not own.
func NewBadgerQueue(db *kv.DB) *BadgerQueue {
	return &BadgerQueue{
		db:           db,
		pollInterval: 200 * time.Millisecond,
		wakeups:      make(map[string]chan struct{}),
		now:          time.Now,
	}
}

func readyPrefix(queue string) string    { return "q/" + queue + "/" }
func inflightPrefix(queue string) string { return "qi/" + queue + "/" }

func (q *BadgerQueue) wakeup(queue string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.wakeups[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wakeups[queue] = ch
	}
	return ch
}

func (q *BadgerQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func readyKey(queue string, seq uint64) string {
	return fmt.Sprintf("%s%020d", readyPrefix(queue), seq)
}

func (q *BadgerQueue) signal(queue string) {
	select {
	case q.wakeup(queue) <- struct{}{}:
	default:
	}
}

func (q *BadgerQueue) put(ctx context.Context, queue string, env envelope) error {
	seq, err := q.db.Next("queue")
	if err != nil {
		return err
	}
	if err := q.db.Update(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, readyKey(queue, seq), env)
	}); err != nil {
		return err
	}
	q.signal(queue)
	return nil
}

// requeue moves an in-flight message back to the ready queue in a single
// transaction. It reports false when the message was no longer in flight.
func (q *BadgerQueue) requeue(ctx context.Context, queue, inflightKey string, env envelope) (bool, error) {
	seq, err := q.db.Next("queue")
	if err != nil {
		return false, err
	}
	moved := false
	err = q.db.Update(ctx, func(txn *badger.Txn) error {
		moved = false
		if _, err := txn.Get([]byte(inflightKey)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := txn.Delete([]byte(inflightKey)); err != nil {
			return err
		}
		moved = true
		return kv.PutJSON(txn, readyKey(queue, seq), env)
	})
	if err != nil || !moved {
		return false, err
	}
	q.signal(queue)
	return true, nil
}

// Send implements Sender.
func (q *BadgerQueue) Send(ctx context.Context, queue string, body []byte) error {
	if q.isClosed() {
		return ErrClosed
	}
	env := envelope{ID: uuid.NewString(), Body: body, Attempt: 1, EnqueuedAt: q.now().UTC()}
	if err := q.put(ctx, queue, env); err != nil {
		return fmt.Errorf("queue %s: send: %w", queue, err)
	}
	return nil
}

// Receive implements Queue.
func (q *BadgerQueue) Receive(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	wake := q.wakeup(queue)

	for {
		if q.isClosed() {
			return nil, ErrClosed
		}
		m, err := q.take(ctx, queue)
		if err != nil || m != nil {
			return m, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (q *BadgerQueue) take(ctx context.Context, queue string) (*Message, error) {
	var m *Message
	err := q.db.Update(ctx, func(txn *badger.Txn) error {
		m = nil
		return kv.ScanPrefix(txn, readyPrefix(queue), func(key string, val []byte) (bool, error) {
			var env envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return false, fmt.Errorf("decode %s: %w", key, err)
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return false, err
			}
			if err := kv.PutJSON(txn, inflightPrefix(queue)+env.ID, env); err != nil {
				return false, err
			}
			m = &Message{
				ID:         env.ID,
				Queue:      queue,
				Body:       env.Body,
				Attempt:    env.Attempt,
				EnqueuedAt: env.EnqueuedAt,
				Receipt:    env.ID,
			}
			return false, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("queue %s: receive: %w", queue, err)
	}
	return m, nil
}

// Ack implements Queue.
func (q *BadgerQueue) Ack(ctx context.Context, m *Message) error {
	err := q.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(inflightPrefix(m.Queue) + m.Receipt))
	})
	if err != nil {
		return fmt.Errorf("queue %s: ack %s: %w", m.Queue, m.ID, err)
	}
	return nil
}

// Nack implements Queue. The message goes to the back of the queue. A
// message that is no longer in flight, because it was already nacked or
// recovered, is not queued again.
func (q *BadgerQueue) Nack(ctx context.Context, m *Message) error {
	env := envelope{ID: m.ID, Body: m.Body, Attempt: m.Attempt + 1, EnqueuedAt: m.EnqueuedAt}
	if _, err := q.requeue(ctx, m.Queue, inflightPrefix(m.Queue)+m.Receipt, env); err != nil {
		return fmt.Errorf("queue %s: nack %s: %w", m.Queue, m.ID, err)
	}
	return nil
}

// Depth implements Queue.
func (q *BadgerQueue) Depth(ctx context.Context, queue string) (int, error) {
	n := 0
	err := q.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(readyPrefix(queue))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", queue, err)
	}
	return n, nil
}

// RecoverInFlight returns every in-flight message to its ready queue. Call
// it at startup, before any worker runs.
func (q *BadgerQueue) RecoverInFlight(ctx context.Context) (int, error) {
	type pending struct {
		queue string
		key   string
		env   envelope
	}
	var found []pending
	err := q.db.View(ctx, func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, "qi/", func(key string, val []byte) (bool, error) {
			var env envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return false, fmt.Errorf("decode %s: %w", key, err)
			}
			rest := strings.TrimPrefix(key, "qi/")
			name, _, ok := strings.Cut(rest, "/")
			if !ok {
				return true, nil
			}
			found = append(found, pending{queue: name, key: key, env: env})
			return true, nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("queue: scan in-flight: %w", err)
	}
	recovered := 0
	for _, p := range found {
		moved, err := q.requeue(ctx, p.queue, p.key, p.env)
		if err != nil {
			return recovered, fmt.Errorf("queue: recover %s: %w", p.key, err)
		}
		if moved {
			recovered++
		}
	}
	return recovered, nil
}

// Close stops pending receivers. The database stays open.
func (q *BadgerQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
