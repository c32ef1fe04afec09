// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers contract-analysis notifications.
//
// Publishers are independent sinks (webhook, redis channel, websocket hub,
// log). Multi fans one notification out to all of them.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Notification is one message for a contract owner.
type Notification struct {
	Subject    string            `json:"subject"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher delivers notifications to one sink.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Name() string
}

// pendingTTL bounds how long Multi remembers a partly delivered notification.
const pendingTTL = time.Hour

// Multi publishes to every publisher and joins their errors. One failing
// sink does not stop the others.
//
// When some sinks fail, Multi remembers which ones accepted the
// notification. Publishing the same notification again, as a queue retry
// does, only reaches the sinks that failed, so websocket clients and
// webhooks do not see duplicates.
type Multi struct {
	pubs []Publisher

	mu      sync.Mutex
	pending map[string]*partial
	now     func() time.Time
}

type partial struct {
	delivered map[int]bool
	at        time.Time
}

// NewMulti fans out to pubs in order.
func NewMulti(pubs ...Publisher) *Multi {
	return &Multi{pubs: pubs, pending: make(map[string]*partial), now: time.Now}
}

// Publish implements Publisher.
func (m *Multi) Publish(ctx context.Context, n Notification) error {
	key := fingerprint(n)
	done := m.delivered(key)

	var (
		errs []error
		ok   []int
	)
	for i, p := range m.pubs {
		if done[i] {
			continue
		}
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		ok = append(ok, i)
	}
	m.record(key, ok, len(errs) > 0)
	return errors.Join(errs...)
}

// Name implements Publisher.
func (m *Multi) Name() string { return "multi" }

func (m *Multi) delivered(key string) map[int]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, p := range m.pending {
		if now.Sub(p.at) > pendingTTL {
			delete(m.pending, k)
		}
	}
	p, ok := m.pending[key]
	if !ok {
		return nil
	}
	out := make(map[int]bool, len(p.delivered))
	for i := range p.delivered {
		out[i] = true
	}
	return out
}

func (m *Multi) record(key string, ok []int, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !failed {
		delete(m.pending, key)
		return
	}
	p, exists := m.pending[key]
	if !exists {
		p = &partial{delivered: make(map[int]bool)}
		m.pending[key] = p
	}
	for _, i := range ok {
		p.delivered[i] = true
	}
	p.at = m.now()
}

// fingerprint identifies a notification by its content. Attribute maps
// marshal with sorted keys.
func fingerprint(n Notification) string {
	data, _ := json.Marshal(n)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LogPublisher writes notifications to the log.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (l LogPublisher) Publish(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"subject", n.Subject}
	for k, v := range n.Attributes {
		args = append(args, k, v)
	}
	logger.Info("Notification", args...)
	return nil
}

// Name implements Publisher.
func (LogPublisher) Name() string { return "log" }
