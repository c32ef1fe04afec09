// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/services/extraction"
	"github.com/AleutianAI/ContractIQ/services/llm"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
	"github.com/AleutianAI/ContractIQ/services/storage/docdb"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// =============================================================================
// Test harness
// =============================================================================

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type sentMessage struct {
	queue string
	body  []byte
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMessage{queue: queue, body: append([]byte(nil), body...)})
	return nil
}

func (r *recordingSender) on(queue string) []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentMessage
	for _, m := range r.sent {
		if m.queue == queue {
			out = append(out, m)
		}
	}
	return out
}

type stageRecord struct{ stage, outcome string }

type recordingObserver struct {
	mu   sync.Mutex
	seen []stageRecord
}

func (o *recordingObserver) ObserveStage(stage, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.seen = append(o.seen, stageRecord{stage, outcome})
	o.mu.Unlock()
}

type harness struct {
	svc   *Services
	blobs *blob.BadgerStore
	docs  *docdb.BadgerStore
	queue *recordingSender
	obs   *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		blobs: blob.NewBadgerStore(db),
		docs:  docdb.NewBadgerStore(db),
		queue: &recordingSender{},
		obs:   &recordingObserver{},
	}
	h.svc = &Services{
		Blobs:    h.blobs,
		Docs:     h.docs,
		Buckets:  Buckets{Upload: "uploads", Text: "text"},
		Queue:    h.queue,
		Observer: h.obs,
		Now:      func() time.Time { return fixedNow },
	}
	return h
}

func (h *harness) putContract(t *testing.T, c datatypes.Contract) {
	t.Helper()
	require.NoError(t, h.docs.PutContract(context.Background(), &c))
}

func (h *harness) contract(t *testing.T, id string) *datatypes.Contract {
	t.Helper()
	c, err := h.docs.GetContract(context.Background(), id)
	require.NoError(t, err)
	return c
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

// =============================================================================
// Fakes for managed services
// =============================================================================

type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	params  []llm.GenerationParams
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, params)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

type fakeOCR struct {
	startErr error
	result   extraction.JobResult
	started  []string
}

func (f *fakeOCR) StartTextDetection(_ context.Context, bucket, key string) (string, error) {
	f.started = append(f.started, bucket+"/"+key)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "job-123", nil
}

func (f *fakeOCR) TextDetectionResult(context.Context, string) (extraction.JobResult, error) {
	return f.result, nil
}

type fakePages struct {
	pages []string
	err   error
}

func (f fakePages) PageTexts([]byte) ([]string, error) { return f.pages, f.err }

var errBackend = errors.New("backend unavailable")

var blobPDF = blob.PutOptions{ContentType: "application/pdf"}

func contains(haystack, needle string) bool { return strings.Contains(haystack, needle) }
