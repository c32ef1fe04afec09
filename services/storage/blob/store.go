// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blob is the object storage layer used for uploaded contracts,
// extracted text, job metadata, model artifacts and exported logs.
//
// Three backends implement Store:
//
//   - GCSStore: Google Cloud Storage
//   - S3Store: Amazon S3 or any S3-compatible endpoint
//   - BadgerStore: the embedded database, for local runs and tests
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// PutOptions describes how an object is written.
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string            `json:"bucket"`
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Updated     time.Time         `json:"updated"`
}

// Store is an object store addressed by bucket and key.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data, replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) error

	// Get reads the whole object. Returns ErrNotFound when absent.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Stat returns object attributes. Returns ErrNotFound when absent.
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// List returns objects whose key starts with prefix, in key order.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// NativeNotifications reports whether the backing service emits
	// object-created events on its own. When false the writer must
	// announce new objects itself.
	NativeNotifications() bool

	// Close releases the client.
	Close() error
}
