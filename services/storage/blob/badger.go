// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// BadgerStore keeps objects in the embedded database.
//
// Object bytes and metadata are stored under separate keys so List and Stat
// never load object bodies.
type BadgerStore struct {
	db  *kv.DB
	now func() time.Time
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates a store on an open database. The store does not
// own db and Close leaves it open.
func NewBadgerStore(db *kv.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

func dataKey(bucket, key string) string { return "blob/" + bucket + "/" + key }
func metaKey(bucket, key string) string { return "blobmeta/" + bucket + "/" + key }

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) error {
	if bucket == "" || key == "" {
		return errors.New("blob: bucket and key are required")
	}
	info := ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		Updated:     s.now().UTC(),
	}
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey(bucket, key)), data); err != nil {
			return err
		}
		return kv.PutJSON(txn, metaKey(bucket, key), info)
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataKey(bucket, key)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Stat implements Store.
func (s *BadgerStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, metaKey(bucket, key), &info)
	})
	if errors.Is(err, kv.ErrKeyNotFound) {
		return ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat %s/%s: %w", bucket, key, err)
	}
	return info, nil
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	scanPrefix := metaKey(bucket, prefix)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, scanPrefix, func(k string, val []byte) (bool, error) {
			var info ObjectInfo
			if err := json.Unmarshal(val, &info); err != nil {
				return false, fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, info)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, err)
	}
	return out, nil
}

// NativeNotifications implements Store. The embedded backend has no event
// source.
func (s *BadgerStore) NativeNotifications() bool { return false }

// Close implements Store.
func (s *BadgerStore) Close() error { return nil }

// SplitURI splits "bucket/key/with/slashes" into its parts. A leading
// scheme such as "gs://" or "s3://" is ignored.
func SplitURI(uri string) (bucket, key string, err error) {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	bucket, key, ok := strings.Cut(uri, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blob: %q is not bucket/key", uri)
	}
	return bucket, key, nil
}
