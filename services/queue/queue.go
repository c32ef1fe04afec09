// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue moves messages between pipeline stages.
//
// Stages never call each other. Each stage sends a message to the queue of
// the next one and a Dispatcher feeds those queues to their handlers with
// retries and a dead-letter queue.
package queue

import (
	"context"
	"errors"
	"time"
)

// Queue names used by the pipeline.
const (
	Extraction   = "extraction"
	Analysis     = "analysis"
	Scoring      = "scoring"
	Notification = "notification"
)

// Names lists every pipeline queue in stage order.
var Names = []string{Extraction, Analysis, Scoring, Notification}

// DeadLetter returns the dead-letter queue name for a queue.
func DeadLetter(name string) string { return name + ".dlq" }

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Message is one delivery taken from a queue.
//
// Attempt starts at 1 and grows each time the message is returned with
// Nack. Receipt is backend specific and must not be modified.
type Message struct {
	ID         string
	Queue      string
	Body       []byte
	Attempt    int
	EnqueuedAt time.Time
	Receipt    string
}

// Sender enqueues messages. Stages depend on this narrow interface.
type Sender interface {
	Send(ctx context.Context, queue string, body []byte) error
}

// Queue is an at-least-once message queue.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Queue interface {
	Sender

	// Receive waits up to wait for a message. It returns (nil, nil) when
	// none arrived. The message stays in flight until Ack or Nack.
	Receive(ctx context.Context, queue string, wait time.Duration) (*Message, error)

	// Ack removes a delivered message for good.
	Ack(ctx context.Context, m *Message) error

	// Nack returns a delivered message to its queue for another attempt.
	Nack(ctx context.Context, m *Message) error

	// Depth reports how many messages are waiting, excluding in-flight ones.
	Depth(ctx context.Context, queue string) (int, error)

	Close() error
}

// envelope is the stored form of a message for backends that keep their
// own attempt counter.
type envelope struct {
	ID         string    `json:"id"`
	Body       []byte    `json:"body"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
