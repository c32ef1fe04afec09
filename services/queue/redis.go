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
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps each queue as a pair of Redis lists.
//
// Ready messages are LPUSHed to {prefix}:{queue}. Receive uses BLMOVE to
// atomically hand the oldest one to {prefix}:{queue}:processing, where it
// stays until Ack or Nack removes it.
type RedisQueue struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects using a redis:// URL.
func NewRedisQueue(ctx context.Context, url, prefix string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("queue: redis ping: %w", err)
	}
	return NewRedisQueueWithClient(client, prefix), nil
}

// NewRedisQueueWithClient wraps an existing client. The queue owns it.
func NewRedisQueueWithClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "contractiq:q"
	}
	return &RedisQueue{client: client, prefix: prefix, now: time.Now}
}

func (q *RedisQueue) readyKey(queue string) string      { return q.prefix + ":" + queue }
func (q *RedisQueue) processingKey(queue string) string { return q.prefix + ":" + queue + ":processing" }

// Send implements Sender.
func (q *RedisQueue) Send(ctx context.Context, queue string, body []byte) error {
	raw, err := json.Marshal(envelope{ID: uuid.NewString(), Body: body, Attempt: 1, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("queue %s: encode: %w", queue, err)
	}
	if err := q.client.LPush(ctx, q.readyKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("queue %s: send: %w", queue, err)
	}
	return nil
}

// Receive implements Queue.
func (q *RedisQueue) Receive(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	if wait <= 0 {
		// BLMOVE treats zero as "block forever".
		wait = time.Second
	}
	raw, err := q.client.BLMove(ctx, q.readyKey(queue), q.processingKey(queue), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s: receive: %w", queue, err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Undecodable entries would block the list forever.
		_ = q.client.LRem(ctx, q.processingKey(queue), 1, raw).Err()
		return nil, fmt.Errorf("queue %s: decode: %w", queue, err)
	}
	return &Message{
		ID:         env.ID,
		Queue:      queue,
		Body:       env.Body,
		Attempt:    env.Attempt,
		EnqueuedAt: env.EnqueuedAt,
		Receipt:    raw,
	}, nil
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, m *Message) error {
	if err := q.client.LRem(ctx, q.processingKey(m.Queue), 1, m.Receipt).Err(); err != nil {
		return fmt.Errorf("queue %s: ack %s: %w", m.Queue, m.ID, err)
	}
	return nil
}

// Nack implements Queue.
func (q *RedisQueue) Nack(ctx context.Context, m *Message) error {
	raw, err := json.Marshal(envelope{ID: m.ID, Body: m.Body, Attempt: m.Attempt + 1, EnqueuedAt: m.EnqueuedAt})
	if err != nil {
		return fmt.Errorf("queue %s: encode: %w", m.Queue, err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(m.Queue), 1, m.Receipt)
		p.LPush(ctx, q.readyKey(m.Queue), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue %s: nack %s: %w", m.Queue, m.ID, err)
	}
	return nil
}

// Depth implements Queue.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (int, error) {
	n, err := q.client.LLen(ctx, q.readyKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", queue, err)
	}
	return int(n), nil
}

// RecoverInFlight moves every processing entry of the given queues back to
// the ready list.
func (q *RedisQueue) RecoverInFlight(ctx context.Context, queues ...string) (int, error) {
	total := 0
	for _, name := range queues {
		for {
			_, err := q.client.LMove(ctx, q.processingKey(name), q.readyKey(name), "LEFT", "RIGHT").Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return total, fmt.Errorf("queue %s: recover: %w", name, err)
			}
			total++
		}
	}
	return total, nil
}

// Close implements Queue.
func (q *RedisQueue) Close() error { return q.client.Close() }
