// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extraction turns stored PDF contracts into plain text.
//
// The managed OCR service (Amazon Textract) is asynchronous: a job is
// started against an object and its result is polled. When the account is
// not subscribed or not authorized the caller falls back to LocalExtractor,
// which reads the PDF text layer directly.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrServiceUnavailable marks a managed OCR failure that should trigger the
// local fallback instead of failing the stage.
var ErrServiceUnavailable = errors.New("managed OCR service unavailable")

// ErrJobFailed is returned when an OCR job finished unsuccessfully.
var ErrJobFailed = errors.New("text detection job failed")

// ErrJobTimeout is returned when a job is still running after the wait.
var ErrJobTimeout = errors.New("text detection job did not finish in time")

// JobStatus is the state of an asynchronous text detection job.
type JobStatus string

const (
	JobInProgress     JobStatus = "IN_PROGRESS"
	JobSucceeded      JobStatus = "SUCCEEDED"
	JobFailed         JobStatus = "FAILED"
	JobPartialSuccess JobStatus = "PARTIAL_SUCCESS"
)

// JobResult is one poll of a text detection job.
type JobResult struct {
	Status  JobStatus
	Text    string
	Message string
}

// OCR is a managed asynchronous text detection service.
type OCR interface {
	// StartTextDetection starts a job on bucket/key. Errors that mean the
	// service cannot be used at all wrap ErrServiceUnavailable.
	StartTextDetection(ctx context.Context, bucket, key string) (string, error)

	// TextDetectionResult reports the job state and, once it succeeded,
	// the detected lines joined by newlines.
	TextDetectionResult(ctx context.Context, jobID string) (JobResult, error)
}

// unavailableMarkers are the error codes after which the managed service
// is skipped.
var unavailableMarkers = []string{"SubscriptionRequiredException", "AccessDeniedException"}

// IsUnavailableMessage reports whether an error text names a subscription
// or authorization failure.
func IsUnavailableMessage(msg string) bool {
	for _, m := range unavailableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// WaitForText polls an OCR job until it finishes or timeout elapses.
//
// # Outputs
//
//   - string: Detected text. A partial success still returns what was read.
//   - error: ErrJobFailed, ErrJobTimeout, a context error, or a poll error.
func WaitForText(ctx context.Context, ocr OCR, jobID string, interval, timeout time.Duration) (string, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := ocr.TextDetectionResult(ctx, jobID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("job %s: %w", jobID, ErrJobTimeout)
			}
			return "", fmt.Errorf("job %s: %w", jobID, err)
		}
		switch res.Status {
		case JobSucceeded, JobPartialSuccess:
			return res.Text, nil
		case JobFailed:
			return "", fmt.Errorf("job %s: %w: %s", jobID, ErrJobFailed, res.Message)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("job %s: %w", jobID, ErrJobTimeout)
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
