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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ContractIQ/services/extraction"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
)

// ExtractConfig bounds the wait for managed OCR jobs.
type ExtractConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	WaitTimeout  time.Duration `yaml:"wait_timeout" toml:"wait_timeout"`
}

// ExtractResult is the extraction response.
type ExtractResult struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

// JobMetadata is written next to the extracted text for every job.
type JobMetadata struct {
	JobID      string `json:"job_id"`
	ContractID string `json:"contract_id"`
	ObjectKey  string `json:"s3_key"`
	Status     string `json:"status"`
	Bucket     string `json:"bucket"`
}

// Extractor turns an uploaded PDF into text in the text bucket.
type Extractor struct {
	svc   *Services
	ocr   extraction.OCR
	local *extraction.LocalExtractor
	cfg   ExtractConfig
}

// NewExtractor creates the extraction stage. A nil ocr always uses the
// local extractor.
func NewExtractor(svc *Services, ocr extraction.OCR, local *extraction.LocalExtractor, cfg ExtractConfig) *Extractor {
	if local == nil {
		local = extraction.NewLocalExtractor(nil)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 5 * time.Minute
	}
	return &Extractor{svc: svc, ocr: ocr, local: local, cfg: cfg}
}

// HandleEvent parses an object-created event and runs Extract.
func (e *Extractor) HandleEvent(ctx context.Context, raw []byte) (*ExtractResult, error) {
	obj, err := datatypes.ParseObjectEvent(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return e.Extract(ctx, obj)
}

// HandleMessage is HandleEvent for queue workers.
func (e *Extractor) HandleMessage(ctx context.Context, body []byte) error {
	_, err := e.HandleEvent(ctx, body)
	if err != nil && IsPermanent(err) {
		return queue.Permanent(err)
	}
	return err
}

// Extract processes one uploaded object.
//
// # Description
//
// Keys that are not PDFs are skipped. Managed OCR is tried first and its
// job is polled until the text is available. When the service reports
// that it is not subscribed or not authorized, the local extractor reads
// the object instead under the job id free-extraction-{id}. In both cases
// the text and the job metadata land in the text bucket, the contract moves
// to processing and an ExtractionCompleted message is queued for analysis.
func (e *Extractor) Extract(ctx context.Context, obj datatypes.ObjectCreated) (res *ExtractResult, err error) {
	if obj.Bucket == "" || obj.Key == "" {
		return nil, fmt.Errorf("%w: missing bucket or key", ErrInvalidEvent)
	}
	if !IsPDF(obj.Key) {
		e.svc.logger().Info("Skipping non-PDF file", "stage", StageExtraction, "key", obj.Key)
		return &ExtractResult{Message: "Not a PDF file"}, nil
	}

	id := ContractIDFromKey(obj.Key)
	ctx, end := e.svc.begin(ctx, StageExtraction, attribute.String("contract_id", id))
	defer func() { end(err) }()
	log := e.svc.logger().With("stage", StageExtraction, "contract_id", id)

	jobID, text, err := e.detect(ctx, obj, id)
	if err != nil {
		return nil, err
	}
	log = log.With("job_id", jobID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("job_id", jobID))

	if err := e.svc.Blobs.Put(ctx, e.svc.Buckets.Text, TextKey(id), []byte(text), blob.PutOptions{ContentType: "text/plain"}); err != nil {
		return nil, fmt.Errorf("save extracted text: %w", err)
	}
	meta, err := json.Marshal(JobMetadata{
		JobID:      jobID,
		ContractID: id,
		ObjectKey:  obj.Key,
		Status:     string(datatypes.StatusProcessing),
		Bucket:     obj.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job metadata: %w", err)
	}
	if err := e.svc.Blobs.Put(ctx, e.svc.Buckets.Text, JobMetadataKey(id), meta, blob.PutOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("save job metadata: %w", err)
	}

	now := e.svc.now()
	if _, err := e.svc.upsertContract(ctx, id, func(c *datatypes.Contract) error {
		c.SetStatus(datatypes.StatusProcessing)
		c.UpdatedAt = now
		if c.ObjectKey == "" {
			c.ObjectKey = obj.Key
		}
		if c.Filename == "" {
			c.Filename = CleanFilename(obj.Key)
		}
		if c.UploadedAt.IsZero() {
			c.UploadedAt = now
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("mark contract processing: %w", err)
	}

	if err := e.svc.enqueue(ctx, queue.Analysis, datatypes.ExtractionCompleted{
		JobID:      jobID,
		ContractID: id,
		ObjectKey:  obj.Key,
		Bucket:     obj.Bucket,
	}); err != nil {
		return nil, err
	}

	log.Info("Text extraction finished", "chars", len(text))
	return &ExtractResult{Message: "Textract processing initiated", JobID: jobID}, nil
}

// detect returns the job id and the extracted text.
func (e *Extractor) detect(ctx context.Context, obj datatypes.ObjectCreated, id string) (string, string, error) {
	if e.ocr != nil {
		jobID, err := e.ocr.StartTextDetection(ctx, obj.Bucket, obj.Key)
		switch {
		case err == nil:
			text, err := extraction.WaitForText(ctx, e.ocr, jobID, e.cfg.PollInterval, e.cfg.WaitTimeout)
			if err != nil {
				return "", "", fmt.Errorf("text detection: %w", err)
			}
			return jobID, text, nil
		case errors.Is(err, extraction.ErrServiceUnavailable):
			e.svc.logger().Info("Managed OCR unavailable, using local extraction", "stage", StageExtraction, "contract_id", id)
		default:
			return "", "", fmt.Errorf("start text detection: %w", err)
		}
	}

	data, err := e.svc.Blobs.Get(ctx, obj.Bucket, obj.Key)
	if err != nil {
		return LocalJobID(id), extraction.ErrorText(err), nil
	}
	return LocalJobID(id), e.local.Extract(obj.Key, data), nil
}
