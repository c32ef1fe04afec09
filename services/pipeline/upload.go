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
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
)

// UploadRequest is the body of an upload call.
type UploadRequest struct {
	FileContent string `json:"file_content"`
	Filename    string `json:"filename,omitempty"`
}

// UploadResult is the successful upload response.
type UploadResult struct {
	ContractID string `json:"contractId"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

// Uploader stores a new contract document and creates its record.
type Uploader struct {
	svc *Services
}

// NewUploader creates the upload stage.
func NewUploader(svc *Services) *Uploader {
	return &Uploader{svc: svc}
}

// Upload stores the decoded file under a new contract id.
//
// # Description
//
// The object lands at contracts/{user}/{id}/{filename} in the upload
// bucket with content type application/pdf. The record starts in status
// uploaded. When the object store has no change notifications of its own
// an ObjectCreated message is queued for extraction. A failure to queue is
// only logged since the sweeper re-drives stuck uploads.
//
// # Inputs
//
//   - userID: Caller identity. Empty means anonymous.
//   - req: Base64 file content and optional filename.
//
// # Outputs
//
//   - error: ErrNoFileContent, ErrInvalidFileContent, or a backend error.
func (u *Uploader) Upload(ctx context.Context, userID string, req UploadRequest) (res *UploadResult, err error) {
	ctx, end := u.svc.begin(ctx, StageUpload)
	defer func() { end(err) }()

	if strings.TrimSpace(req.FileContent) == "" {
		return nil, ErrNoFileContent
	}
	data, err := decodeBase64(req.FileContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFileContent, err)
	}
	return u.store(ctx, userID, req.Filename, data)
}

// Store is Upload for callers that already hold the raw bytes, such as the
// watch-folder command.
func (u *Uploader) Store(ctx context.Context, userID, filename string, data []byte) (res *UploadResult, err error) {
	ctx, end := u.svc.begin(ctx, StageUpload, attribute.Int("bytes", len(data)))
	defer func() { end(err) }()
	return u.store(ctx, userID, filename, data)
}

func (u *Uploader) store(ctx context.Context, userID, filename string, data []byte) (*UploadResult, error) {
	if userID == "" {
		userID = AnonymousUser
	}
	filename = CleanFilename(filename)
	id := uuid.NewString()
	key := ObjectKey(userID, id, filename)
	now := u.svc.now()
	log := u.svc.logger().With("stage", StageUpload, "contract_id", id)

	err := u.svc.Blobs.Put(ctx, u.svc.Buckets.Upload, key, data, blob.PutOptions{
		ContentType: "application/pdf",
		Metadata: map[string]string{
			"contract-id": id,
			"user-id":     userID,
			"uploaded-at": now.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store upload %s: %w", key, err)
	}

	c := &datatypes.Contract{
		ContractID: id,
		UserID:     userID,
		Filename:   filename,
		ObjectKey:  key,
		Status:     datatypes.StatusUploaded,
		UploadedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := u.svc.Docs.PutContract(ctx, c); err != nil {
		return nil, fmt.Errorf("create contract record: %w", err)
	}

	if !u.svc.Blobs.NativeNotifications() {
		msg := datatypes.ObjectCreated{Bucket: u.svc.Buckets.Upload, Key: key}
		if err := u.svc.enqueue(ctx, queue.Extraction, msg); err != nil {
			log.Warn("Failed to queue extraction", "error", err)
		}
	}

	log.Info("Contract uploaded", "key", key, "bytes", len(data))
	return &UploadResult{
		ContractID: id,
		Message:    "Contract uploaded successfully",
		Status:     string(datatypes.StatusUploaded),
	}, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not, and an
// optional data URL prefix.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return nil, err
}
