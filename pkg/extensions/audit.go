// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is one security-relevant action on a contract.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "contract.upload",
//	    UserID:       info.UserID,
//	    ResourceType: "contract",
//	    ResourceID:   contractID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType has the form "category.action", e.g. "contract.read".
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	// UserID is AnonymousUser when the caller is unknown.
	UserID string

	ResourceType string
	ResourceID   string

	// Outcome is "success", "failure" or "denied".
	Outcome string

	// Metadata holds event-specific detail such as the HTTP status.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

// SlogAuditLogger writes events to a structured logger at info level.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// Log emits event as one "audit" record.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
